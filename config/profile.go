package config

import "strconv"

// Profile is the transport profile used to connect the REPL binary to a device.
// Only the companion protocol profile is live.
type Profile struct {
	Protocol        string
	CredentialsFlag string
}

// CompanionProfile connects over the companion protocol using the device's companion credentials.
var CompanionProfile = Profile{
	Protocol:        "companion",
	CredentialsFlag: "--companion-credentials",
}

// Args builds the full argument list for connecting to d:
// the configured base args, the manual single-protocol flags, the device's connection parameters, then the cli subcommand.
func (p Profile) Args(repl REPL, d Device) []string {
	args := make([]string, 0, len(repl.Args)+12)
	args = append(args, repl.Args...)
	return append(args,
		"--manual",
		"--address", d.Address,
		"--port", strconv.Itoa(d.Port),
		"--protocol", p.Protocol,
		"--id", repl.SessionID,
		p.CredentialsFlag, d.Credentials,
		"cli",
	)
}
