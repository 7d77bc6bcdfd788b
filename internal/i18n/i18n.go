// Package i18n localizes the messages the quiz API returns to candidates
// and admins.
//
// Messages live in embedded go-i18n JSON files, one per language, and
// every file must define the same message IDs as the default language.
// Error responses carry a snake_case code such as "token_not_found"; the
// message for a code is the ID formed by camel-casing it ("TokenNotFound").
// Other messages (titles, submit notices, plural counts) use plain IDs.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle  *i18n.Bundle
	defLang = "en"
)

// Init loads every embedded message file with lang as the fallback
// language. It fails when lang has no message file or another file lacks
// one of its message IDs.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}
	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	ids := map[string][]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		mf, err := b.ParseMessageFileBytes(data, e.Name())
		if err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		base, _ := mf.Tag.Base()
		for _, m := range mf.Messages {
			ids[base.String()] = append(ids[base.String()], m.ID)
		}
		slog.Debug("loaded locale file", "file", e.Name(), "messages", len(mf.Messages))
	}
	defBase, _ := tag.Base()
	if err := checkComplete(defBase.String(), ids); err != nil {
		return err
	}

	bundle = b
	defLang = lang
	return nil
}

// checkComplete reports message IDs of the default language that another
// language does not define.
func checkComplete(def string, ids map[string][]string) error {
	want, ok := ids[def]
	if !ok {
		return fmt.Errorf("no message file for default language %q", def)
	}
	var problems []string
	for tag, have := range ids {
		var missing []string
		for _, id := range want {
			if !slices.Contains(have, id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			problems = append(problems, fmt.Sprintf("%s lacks %s", tag, strings.Join(missing, ", ")))
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("incomplete locale files: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NewLocalizer creates a localizer for the given language.
func NewLocalizer(lang string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, lang)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle, defLang)
}

// Languages returns the languages with a loaded message file, the default
// language first.
func Languages() []language.Tag {
	if bundle == nil {
		return nil
	}
	return bundle.LanguageTags()
}

// MessageID returns the message ID for an API error code.
func MessageID(code string) string {
	var sb strings.Builder
	for part := range strings.SplitSeq(code, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}

// Error returns the localized message for an API error code.
func Error(ctx context.Context, code string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: MessageID(code), TemplateData: data})
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Tp translates a pluralized message by ID. The count is available to the
// template as .Count.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// localize returns the message ID itself when no translation exists.
func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}
