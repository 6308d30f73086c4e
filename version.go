package supervisor

// Version is the current version of the supervisor library.
const Version = "1.0.0"

// MinRestartSeconds is the absolute floor for restart timing: an
// auto-restart interval below it is rejected at environment check, and a
// fatal error triggers a restart only after at least this much uptime.
const MinRestartSeconds = 10
