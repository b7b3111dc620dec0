package directives

import (
	"context"
	"strings"

	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
)

// addAsset writes text to channel, restoring the previous loader.
func addAsset(c directive.Compiler, channel, text string) {
	restore := c.UseLoader(channel)
	defer restore()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	c.Add(text)
}

func clientDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "client",
		Description: "Moves its block to the client script artifact instead of the rendered output.",
		Example:     "@client({wrap: true}) document.title = 'ready' @end",
		Params: expr.Schema{
			{Name: "options", Kind: expr.KindObject, Description: "wrap: run the script in its own function scope"},
		},
		Block:   true,
		Content: directive.ContentScript,
		OnChildren: func(ctx context.Context, c directive.Compiler, call *directive.Call, ch directive.Children) error {
			opts, err := call.Expr.Object("options")
			if err != nil {
				return err
			}
			body, err := c.CompileString(ch.Regular)
			if err != nil {
				return err
			}
			body = strings.TrimSpace(body)
			if wrap, _ := opts["wrap"].(bool); wrap {
				body = "(function () {\n" + body + "\n})();"
			}
			addAsset(c, ChannelClient, body)
			return nil
		},
	}
}

func styleDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "style",
		Description: "Moves its block to the stylesheet artifact, optionally inside a media query.",
		Example:     "@style('(max-width: 600px)') nav { display: none } @end",
		Params: expr.Schema{
			{Name: "media", Kind: expr.KindString, Description: "media query wrapping the rules"},
		},
		Block:   true,
		Content: directive.ContentStyle,
		OnChildren: func(ctx context.Context, c directive.Compiler, call *directive.Call, ch directive.Children) error {
			media, err := call.Expr.String("media")
			if err != nil {
				return err
			}
			body, err := c.CompileString(ch.Regular)
			if err != nil {
				return err
			}
			body = strings.TrimSpace(body)
			if media != "" {
				body = "@media " + media + " {\n" + body + "\n}"
			}
			addAsset(c, ChannelStyle, body)
			return nil
		},
	}
}
