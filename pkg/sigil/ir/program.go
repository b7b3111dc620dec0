package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Program is a linked instruction sequence ready for execution
type Program struct {
	Name   string  `json:"name"`
	Instrs []Instr `json:"instrs"`

	labels map[int]int
}

// Link builds a program from instrs, resolving label targets and checking
// that every jump has a target and scopes are balanced.
func Link(name string, instrs []Instr) (*Program, error) {
	p := &Program{Name: name, Instrs: instrs}
	if err := p.link(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Program) link() error {
	p.labels = make(map[int]int)
	depth := 0
	for pc, in := range p.Instrs {
		switch in.Op {
		case OpLabel:
			if _, dup := p.labels[in.Label]; dup {
				return fmt.Errorf("%s: duplicate label L%d", p.Name, in.Label)
			}
			p.labels[in.Label] = pc
		case OpEnterScope:
			depth++
		case OpExitScope:
			depth--
			if depth < 0 {
				return fmt.Errorf("%s: scope exit without enter at %d", p.Name, pc)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%s: %d scopes left open", p.Name, depth)
	}
	for pc, in := range p.Instrs {
		switch in.Op {
		case OpJump, OpJumpIfNot, OpRange, OpNext:
			if _, ok := p.labels[in.Label]; !ok {
				return fmt.Errorf("%s: undefined label L%d at %d", p.Name, in.Label, pc)
			}
		}
	}
	return nil
}

// Target returns the instruction index of a label.
func (p *Program) Target(label int) int {
	return p.labels[label]
}

func (p *Program) String() string {
	var b strings.Builder
	for pc, in := range p.Instrs {
		fmt.Fprintf(&b, "%04d %s\n", pc, in)
	}
	return b.String()
}

// UnmarshalJSON decodes and relinks a serialized program.
func (p *Program) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string  `json:"name"`
		Instrs []Instr `json:"instrs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name, p.Instrs = raw.Name, raw.Instrs
	return p.link()
}
