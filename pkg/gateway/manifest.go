package gateway

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
)

// MaxTextRunes bounds Manifest.Text.
const MaxTextRunes = 50

const (
	markSuccess = "✓ "
	markFailure = "✗ "
	markPending = "… "
)

type Haptic string

const (
	HapticSuccess   Haptic = "success"
	HapticError     Haptic = "error"
	HapticThinking  Haptic = "thinking"
	HapticAttention Haptic = "attention"
)

// Overlay is optional structured detail for the renderer.
type Overlay struct {
	Kind    string         `json:"kind"`
	Content map[string]any `json:"content,omitempty"`
}

// Manifest is everything the rendering layer gets back from Mediate.
type Manifest struct {
	Text        string   `json:"text"`
	Haptic      Haptic   `json:"haptic,omitempty"`
	Overlay     *Overlay `json:"overlay,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

// OK reports whether the manifest describes a success.
func (m Manifest) OK() bool {
	return strings.HasPrefix(m.Text, markSuccess)
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= MaxTextRunes {
		return s
	}
	r := []rune(s)
	return string(r[:MaxTextRunes-1]) + "…"
}

func failure(text string, recoverable bool) Manifest {
	return Manifest{Text: clip(markFailure + text), Haptic: HapticError, Recoverable: recoverable}
}

func clarify(text string) Manifest {
	return Manifest{Text: clip(markPending + text), Haptic: HapticAttention, Recoverable: true}
}

var failureText = map[string]string{
	command.ReasonReplay:        "replay rejected",
	command.ReasonMissingProof:  "authorization missing",
	command.ReasonInvalidProof:  "authorization rejected",
	command.ReasonTimeout:       "timed out, try again",
	command.ReasonChannelClosed: "pipeline offline",
	command.ReasonShuttingDown:  "pipeline shutting down",
}

func fromResult(kind command.Kind, res command.Result) Manifest {
	switch r := res.(type) {
	case command.Success:
		m := Manifest{Text: clip(markSuccess + r.Message), Haptic: HapticSuccess}
		if len(r.Data) > 0 || r.AttestationPending {
			content := make(map[string]any, len(r.Data)+1)
			for k, v := range r.Data {
				content[k] = v
			}
			if r.AttestationPending {
				content["warning"] = r.Warning
				m.Haptic = HapticAttention
			}
			m.Overlay = &Overlay{Kind: string(kind), Content: content}
		}
		return m
	case command.Failure:
		text, ok := failureText[r.Error]
		if !ok {
			text = r.Error
		}
		return failure(text, r.Recoverable)
	case command.Pending:
		return Manifest{Text: markPending + "working on it", Haptic: HapticThinking, Recoverable: true}
	default:
		return failure("unexpected result", false)
	}
}

// summarize renders parameters in key order for the history log.
func summarize(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, params[k])
	}
	return b.String()
}
