package parser

import (
	"github.com/hadi77ir/go-mongosh/command"
)

// replSetHelper builds the server side of an rs.<helper>(...) call
type replSetHelper struct {
	minArgs int
	maxArgs int
	build   func(c call, cmd *command.ReplSetCommand) error
}

var replSetHelpers = map[string]replSetHelper{
	"status":                        {0, 0, runDocument("replSetGetStatus")},
	"conf":                          {0, 0, runDocument("replSetGetConfig")},
	"config":                        {0, 0, runDocument("replSetGetConfig")},
	"isMaster":                      {0, 0, runDocument("isMaster")},
	"hello":                         {0, 0, runDocument("hello")},
	"printSecondaryReplicationInfo": {0, 0, runDocument("replSetGetStatus")},
	"printReplicationInfo":          {0, 0, replicationInfo},
	"initiate":                      {0, 1, initiate},
	"reconfig":                      {1, 2, reconfig},
	"stepDown":                      {0, 2, stepDown},
	"freeze":                        {1, 1, freeze},
	"syncFrom":                      {1, 1, syncFrom},
	"add":                           {1, 2, addMember},
	"addArb":                        {1, 1, addMember},
	"remove":                        {1, 1, removeMember},
}

func runDocument(name string) func(c call, cmd *command.ReplSetCommand) error {
	return func(c call, cmd *command.ReplSetCommand) error {
		cmd.Document = command.D(command.E(name, command.Int(1)))
		return nil
	}
}

func replicationInfo(c call, cmd *command.ReplSetCommand) error {
	cmd.Namespace = command.Namespace{Database: "local"}
	cmd.Document = command.D(command.E("collStats", command.String("oplog.rs")))
	return nil
}

func initiate(c call, cmd *command.ReplSetCommand) error {
	cfg, err := c.arg(0).document(c.name, "config")
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = command.D()
	}
	cmd.Document = command.D(command.E("replSetInitiate", command.Doc(cfg)))
	return nil
}

func reconfig(c call, cmd *command.ReplSetCommand) error {
	cfg, err := c.args[0].requiredDocument(c.name, "config")
	if err != nil {
		return err
	}
	opts, err := c.arg(1).document(c.name, "options")
	if err != nil {
		return err
	}
	cmd.Document = prepend(command.E("replSetReconfig", command.Doc(cfg)), opts)
	return nil
}

func stepDown(c call, cmd *command.ReplSetCommand) error {
	secs := command.Int(60)
	if c.has(0) {
		n, err := nonNegative(c.args[0].value, c.args[0].pos, c.name, "stepDownSecs")
		if err != nil {
			return err
		}
		secs = command.Int(n)
	}
	cmd.Document = command.D(command.E("replSetStepDown", secs))
	if c.has(1) {
		n, err := nonNegative(c.args[1].value, c.args[1].pos, c.name, "secondaryCatchUpPeriodSecs")
		if err != nil {
			return err
		}
		cmd.Document = cmd.Document.With("secondaryCatchUpPeriodSecs", command.Int(n))
	}
	return nil
}

func freeze(c call, cmd *command.ReplSetCommand) error {
	n, err := nonNegative(c.args[0].value, c.args[0].pos, c.name, "seconds")
	if err != nil {
		return err
	}
	cmd.Document = command.D(command.E("replSetFreeze", command.Int(n)))
	return nil
}

func syncFrom(c call, cmd *command.ReplSetCommand) error {
	host, err := c.args[0].str(c.name, "host")
	if err != nil {
		return err
	}
	cmd.Document = command.D(command.E("replSetSyncFrom", command.String(host)))
	return nil
}

// addMember accepts a "host:port" string or a member document
func addMember(c call, cmd *command.ReplSetCommand) error {
	cmd.Action = command.ReplSetAddMember
	a := c.args[0]
	if host, ok := a.value.AsString(); ok {
		if host == "" {
			return command.NewValidationError(a.pos, c.name, "host must not be empty")
		}
		cmd.Document = command.D(command.E("host", command.String(host)))
	} else {
		member, err := a.requiredDocument(c.name, "member")
		if err != nil {
			return err
		}
		if v, ok := member.Get("host"); !ok || v.Kind() != command.KindString {
			return command.NewValidationError(a.pos, c.name, "member document requires a host string")
		}
		cmd.Document = member
	}
	if c.name == "addArb" {
		cmd.Arbiter = true
	} else if c.has(1) {
		arb, err := c.args[1].boolean(c.name, "arbiterOnly")
		if err != nil {
			return err
		}
		cmd.Arbiter = arb
	}
	return nil
}

func removeMember(c call, cmd *command.ReplSetCommand) error {
	cmd.Action = command.ReplSetRemoveMember
	host, err := c.args[0].str(c.name, "host")
	if err != nil {
		return err
	}
	if host == "" {
		return command.NewValidationError(c.args[0].pos, c.name, "host must not be empty")
	}
	cmd.Document = command.D(command.E("host", command.String(host)))
	return nil
}

// buildReplSet binds an rs.<helper>(...) call
func buildReplSet(c call) (command.Command, error) {
	h, ok := replSetHelpers[c.name]
	if !ok {
		return nil, command.NewParseError(c.pos, command.ErrUnknownVerb,
			"unknown replica set helper %q (known helpers: %s)", c.name, knownNames(replSetHelpers))
	}
	if err := checkArgs(c, h.minArgs, h.maxArgs); err != nil {
		return nil, err
	}
	cmd := command.ReplSetCommand{
		Namespace: command.Namespace{Database: "admin"},
		Helper:    c.name,
		Args:      argValues(c),
		Action:    command.ReplSetRun,
	}
	if err := h.build(c, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
