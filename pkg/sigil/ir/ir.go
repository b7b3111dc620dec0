// Package ir defines the instruction set emitted by the compiler and
// executed by the runtime.
package ir

import (
	"fmt"
	"strings"
)

// Op is an instruction opcode
type Op uint8

const (
	// OpText appends Text to the output buffer
	OpText Op = iota
	// OpEmit appends the value of Expr, HTML-escaped when Escape is set
	OpEmit
	// OpComment is a no-op carrying Text, used for error placeholders
	OpComment
	// OpLabel marks a jump target
	OpLabel
	// OpJump continues at Label
	OpJump
	// OpJumpIfNot continues at Label when Expr is falsy
	OpJumpIfNot
	// OpSet binds Name to the value of Expr in the current scope
	OpSet
	// OpBind binds every key of the map value of Expr in the current scope
	OpBind
	// OpEnterScope pushes a clone of the current context. Mode
	// ModeComponent marks the scope as the one collecting slots.
	OpEnterScope
	// OpExitScope pops the current context and disposes of its output by Mode
	OpExitScope
	// OpRange starts iterating Expr, binding Name (value) and Key. It
	// continues at Label when there is nothing to iterate.
	OpRange
	// OpNext advances the innermost iterator and continues at Label while
	// items remain
	OpNext
	// OpRender renders the template Name in a cloned scope bound to Expr
	OpRender
	// OpPlaceholder writes a deferred slot of kind Key for Name, with Text as
	// the fallback content
	OpPlaceholder
	// OpResolve replaces placeholders in the top-level buffer
	OpResolve
)

var opNames = []string{
	"text", "emit", "comment", "label", "jump", "jump_if_not", "set", "bind",
	"enter_scope", "exit_scope", "range", "next", "render", "placeholder", "resolve",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Op) UnmarshalText(b []byte) error {
	for i, name := range opNames {
		if name == string(b) {
			*o = Op(i)
			return nil
		}
	}
	return fmt.Errorf("unknown op %q", b)
}

// ScopeMode says what OpExitScope does with the popped context's output
type ScopeMode uint8

const (
	// ModeMerge appends the output to the parent buffer
	ModeMerge ScopeMode = iota
	// ModeDiscard drops the output
	ModeDiscard
	// ModePush appends the output to the stack Name
	ModePush
	// ModeDefine stores the output as the section Name
	ModeDefine
	// ModeSlot stores the output as slot Name of the parent scope
	ModeSlot
	// ModeComponent renders template Name with props Expr, the output as
	// the default slot and any captured slots
	ModeComponent
)

var modeNames = []string{"merge", "discard", "push", "define", "slot", "component"}

func (m ScopeMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m ScopeMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ScopeMode) UnmarshalText(b []byte) error {
	for i, name := range modeNames {
		if name == string(b) {
			*m = ScopeMode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scope mode %q", b)
}

// Instr is a single instruction. Fields are interpreted per Op.
type Instr struct {
	Op     Op        `json:"op"`
	Text   string    `json:"text,omitempty"`
	Expr   string    `json:"expr,omitempty"`
	Name   string    `json:"name,omitempty"`
	Key    string    `json:"key,omitempty"`
	Label  int       `json:"label,omitempty"`
	Escape bool      `json:"escape,omitempty"`
	Mode   ScopeMode `json:"mode,omitempty"`
}

func (in Instr) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpText, OpComment:
		fmt.Fprintf(&b, " %q", in.Text)
	case OpEmit:
		fmt.Fprintf(&b, " %s escape=%t", in.Expr, in.Escape)
	case OpLabel, OpJump, OpNext:
		fmt.Fprintf(&b, " L%d", in.Label)
	case OpJumpIfNot:
		fmt.Fprintf(&b, " %s L%d", in.Expr, in.Label)
	case OpSet:
		fmt.Fprintf(&b, " %s = %s", in.Name, in.Expr)
	case OpBind:
		fmt.Fprintf(&b, " %s", in.Expr)
	case OpEnterScope:
		if in.Mode == ModeComponent {
			fmt.Fprintf(&b, " %s", in.Mode)
		}
	case OpExitScope:
		fmt.Fprintf(&b, " %s %s", in.Mode, in.Name)
	case OpRange:
		fmt.Fprintf(&b, " %s, %s in %s else L%d", in.Key, in.Name, in.Expr, in.Label)
	case OpRender:
		fmt.Fprintf(&b, " %s %s", in.Name, in.Expr)
	case OpPlaceholder:
		fmt.Fprintf(&b, " %s:%s", in.Key, in.Name)
	}
	return b.String()
}

// Text returns an OpText instruction.
func Text(s string) Instr { return Instr{Op: OpText, Text: s} }

// Emit returns an OpEmit instruction.
func Emit(expr string, escape bool) Instr { return Instr{Op: OpEmit, Expr: expr, Escape: escape} }

// Label returns an OpLabel instruction.
func Label(id int) Instr { return Instr{Op: OpLabel, Label: id} }

// Jump returns an OpJump instruction.
func Jump(id int) Instr { return Instr{Op: OpJump, Label: id} }

// JumpIfNot returns an OpJumpIfNot instruction.
func JumpIfNot(expr string, id int) Instr { return Instr{Op: OpJumpIfNot, Expr: expr, Label: id} }

// Enter returns an OpEnterScope instruction.
func Enter() Instr { return Instr{Op: OpEnterScope} }

// EnterComponent returns an OpEnterScope instruction opening a component
// body.
func EnterComponent() Instr { return Instr{Op: OpEnterScope, Mode: ModeComponent} }

// Exit returns an OpExitScope instruction.
func Exit(mode ScopeMode, name string) Instr { return Instr{Op: OpExitScope, Mode: mode, Name: name} }

// Comment returns an OpComment instruction.
func Comment(s string) Instr { return Instr{Op: OpComment, Text: s} }
