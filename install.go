package supervisor

import "strings"

// InstallInstructionsText renders the -i surface: a fixed preamble
// describing the binary's own -d/-p usage, followed by every loaded
// plugin's InstallInstructions(), in load order.
func (sup *Supervisor) InstallInstructionsText() string {
	var b strings.Builder
	b.WriteString("To run as a daemon:\n")
	b.WriteString("  <this binary> -d -p /var/run/" + sup.className + ".pid\n")

	instructions := sup.plugins.InstallInstructions()
	if len(instructions) == 0 {
		return b.String()
	}

	b.WriteString("\nPlugin install instructions:\n")
	for _, text := range instructions {
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
