package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gustavo/lendctl/internal/config"
	"github.com/gustavo/lendctl/internal/model"
)

// Render writes the envelope to w in the configured output mode. Plain
// mode surfaces the human-readable message text directly; json mode
// emits the full envelope.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	return renderPlain(w, env)
}

func renderPlain(w io.Writer, env model.Envelope) error {
	if env.Error != nil {
		message := env.Error.Message
		if !strings.HasPrefix(message, "Error") {
			message = "Error: " + message
		}
		if _, err := fmt.Fprintln(w, message); err != nil {
			return err
		}
		return nil
	}

	switch data := env.Data.(type) {
	case model.OperationOutcome:
		_, err := fmt.Fprintln(w, data.Message)
		return err
	case model.PortfolioReport:
		_, err := fmt.Fprintln(w, data.Markdown)
		return err
	case string:
		_, err := fmt.Fprintln(w, data)
		return err
	default:
		line, err := toLine(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func toLine(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var normalized any
	if err := json.Unmarshal(buf, &normalized); err != nil {
		return "", err
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " "), nil
}
