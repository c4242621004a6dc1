// Package firewall applies the platform firewall and routing rule templates for
// each role, tracking whether rules are currently installed so set and unset are
// idempotent.
package firewall

import (
	"fmt"
	"os/exec"
	"strings"
)

// Vars holds the substitution values fed into the shell-command templates.
type Vars struct {
	LocalTunIP6  string
	RemoteTunIP6 string
	LocalTunIP   string
	RemoteTunIP  string
	ExtIP        string
	ExtPort      string
	ExtIfName    string
	ExtGwIP      string
	IfName       string
}

func (v Vars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"$LOCAL_TUN_IP6", v.LocalTunIP6,
		"$REMOTE_TUN_IP6", v.RemoteTunIP6,
		"$LOCAL_TUN_IP", v.LocalTunIP,
		"$REMOTE_TUN_IP", v.RemoteTunIP,
		"$EXT_IP", v.ExtIP,
		"$EXT_PORT", v.ExtPort,
		"$EXT_IF_NAME", v.ExtIfName,
		"$EXT_GW_IP", v.ExtGwIP,
		"$IF_NAME", v.IfName,
	)
}

// RuleSet is the ordered list of shell command templates for one direction (set or
// unset), per server/client role.
type RuleSet struct {
	Set   []string
	Unset []string
}

// Manager applies a RuleSet's commands, substituting Vars, and tracks whether
// rules are currently installed so repeated Apply(true) or Apply(false) calls
// are no-ops.
type Manager struct {
	rules   RuleSet
	exec    func(cmd string) error
	applied bool
}

// NewManager builds a Manager for the given rule templates. runner executes one
// substituted shell command; pass nil to use the real shell.
func NewManager(rules RuleSet, runner func(cmd string) error) *Manager {
	if runner == nil {
		runner = runShell
	}
	return &Manager{rules: rules, exec: runner}
}

// Apply installs (set=true) or tears down (set=false) the rule set, substituting
// vars into each template. A call that matches the current applied state is a
// no-op.
func (m *Manager) Apply(set bool, vars Vars) error {
	if m.applied == set {
		return nil
	}
	cmds := m.rules.Unset
	if set {
		cmds = m.rules.Set
	}
	if cmds == nil {
		return fmt.Errorf("firewall: routing commands for this platform have not been added yet")
	}
	r := vars.replacer()
	for _, tmpl := range cmds {
		cmd := r.Replace(tmpl)
		if err := m.exec(cmd); err != nil {
			return fmt.Errorf("firewall: running %q: %w", cmd, err)
		}
	}
	m.applied = set
	return nil
}

func runShell(cmd string) error {
	return exec.Command("/bin/sh", "-c", cmd).Run()
}
