package seccomp

import (
	"encoding/json"
)

// Docker consumes seccomp profiles as JSON files rather than OCI structs.
// The action and arch constants in runtime-spec are already the SCMP_*
// strings Docker expects, so the conversion is mostly shape.

type dockerSeccompArg struct {
	Index uint   `json:"index"`
	Value uint64 `json:"value"`
	Op    string `json:"op"`
}

type dockerSeccompRule struct {
	Names  []string           `json:"names"`
	Action string             `json:"action"`
	Args   []dockerSeccompArg `json:"args,omitempty"`
}

type dockerSeccompProfile struct {
	DefaultAction string              `json:"defaultAction"`
	Architectures []string            `json:"architectures"`
	Syscalls      []dockerSeccompRule `json:"syscalls"`
}

// DockerProfileJSON renders the default profile in the JSON format accepted
// by docker run --security-opt seccomp=<file>.
func DockerProfileJSON() ([]byte, error) {
	p := DefaultProfile()

	dp := dockerSeccompProfile{
		DefaultAction: string(p.DefaultAction),
	}
	for _, arch := range p.Architectures {
		dp.Architectures = append(dp.Architectures, string(arch))
	}
	for _, rule := range p.Syscalls {
		dr := dockerSeccompRule{
			Names:  rule.Names,
			Action: string(rule.Action),
		}
		for _, arg := range rule.Args {
			dr.Args = append(dr.Args, dockerSeccompArg{
				Index: arg.Index,
				Value: arg.Value,
				Op:    string(arg.Op),
			})
		}
		dp.Syscalls = append(dp.Syscalls, dr)
	}

	return json.MarshalIndent(dp, "", "  ")
}
