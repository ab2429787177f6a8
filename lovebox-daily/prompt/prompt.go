// Package prompt builds the daily image prompt from line-oriented fragment
// files, choosing one fragment per category through a shuffle cycle.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/cycle"
	"lovebox_automation/lovebox-daily/lines"
	"lovebox_automation/lovebox-daily/logger"
)

// DefaultTemplate is the prompt used when none is configured.
const DefaultTemplate = `A cute cartoon illustration of a man in his 40s wearing glasses, thin, white, brunette, smooth chin, brown eyes. ` +
	`He is with his wife, an Asian woman with bright purple, pink, and blue hair, cat ears, and brown eyes. ` +
	`They are {{.Activity}} in {{.Setting}}. {{.TextStyle}} "{{.Message}}". ` +
	`The style contains chibi and kawaii elements and bright colors, hearts and lots of love and excitement.` +
	`{{with .Style}} Render the whole scene {{.}}.{{end}}`

// RemixInstruction is prepended when a reference photo accompanies the prompt.
const RemixInstruction = "Use the attached photo as the reference for the two people: keep their faces, " +
	"hair and glasses recognizable, then redraw them as described below.\n\n"

// PhotosKey is the selection key for reference photos.
const PhotosKey = "photos"

// Category is one fragment source.
type Category struct {
	// Key is the selection key and the template field it fills.
	Key string
	// File is the fragment file name, relative to the data directory.
	File string
	// Optional categories are skipped when their file does not exist.
	Optional bool
}

// DefaultCategories are the fragment sources of the daily prompt.
var DefaultCategories = []Category{
	{Key: "activities", File: "activities.txt"},
	{Key: "settings", File: "settings.txt"},
	{Key: "messages", File: "messages.txt"},
	{Key: "text_styles", File: "textStyles.txt"},
	{Key: "styles", File: "styles.txt", Optional: true},
}

// Chooser picks the next item of a keyed cycle. *cycle.Selector satisfies it.
type Chooser interface {
	Select(ctx context.Context, key string, items []string) (cycle.Result, error)
}

// Config configures an Assembler.
type Config struct {
	DataDir    string
	Template   string
	Categories []Category
	// PhotosDir is where reference photos live. Photos are only used when
	// Remix is set.
	PhotosDir string
	Remix     bool
}

// Prompt is an assembled prompt.
type Prompt struct {
	Text string
	// Fragments maps category key to the chosen fragment.
	Fragments map[string]string
	// ReferencePhoto is the chosen photo path, or "" when not remixing.
	ReferencePhoto string
	// Fallbacks lists the keys whose selection fell back to random choice.
	Fallbacks []string
}

// fields is the template's data.
type fields struct {
	Activity  string
	Setting   string
	Message   string
	TextStyle string
	Style     string
}

// Assembler builds prompts.
type Assembler struct {
	cfg     Config
	tmpl    *template.Template
	chooser Chooser
	log     zerolog.Logger
}

// New parses the configured template and returns an Assembler.
func New(cfg Config, chooser Chooser, log zerolog.Logger) (*Assembler, error) {
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategories
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return &Assembler{cfg: cfg, tmpl: tmpl, chooser: chooser, log: log}, nil
}

// Assemble chooses one fragment per category and renders the template.
// A missing or empty required fragment file fails the whole assembly.
func (a *Assembler) Assemble(ctx context.Context) (*Prompt, error) {
	p := &Prompt{Fragments: make(map[string]string, len(a.cfg.Categories))}

	for _, c := range a.cfg.Categories {
		path := filepath.Join(a.cfg.DataDir, c.File)
		items, err := lines.Read(path)
		if err != nil {
			if c.Optional && errors.Is(err, fs.ErrNotExist) {
				a.log.Debug().Str(logger.FieldKey, c.Key).Str("file", path).Msg("optional fragment file missing, skipping")
				continue
			}
			return nil, err
		}

		res, err := a.chooser.Select(ctx, c.Key, items)
		if err != nil {
			return nil, err
		}
		if res.Fallback {
			p.Fallbacks = append(p.Fallbacks, c.Key)
		}
		p.Fragments[c.Key] = res.Item
		a.log.Debug().Str(logger.FieldKey, c.Key).Int("position", res.Position).Int("cycle_len", res.CycleLen).Msg("fragment chosen")
	}

	if a.cfg.Remix && a.cfg.PhotosDir != "" {
		photo, fallback, err := a.choosePhoto(ctx)
		if err != nil {
			return nil, err
		}
		p.ReferencePhoto = photo
		if fallback {
			p.Fallbacks = append(p.Fallbacks, PhotosKey)
		}
	}

	var sb strings.Builder
	if p.ReferencePhoto != "" {
		sb.WriteString(RemixInstruction)
	}
	data := fields{
		Activity:  p.Fragments["activities"],
		Setting:   p.Fragments["settings"],
		Message:   p.Fragments["messages"],
		TextStyle: p.Fragments["text_styles"],
		Style:     p.Fragments["styles"],
	}
	if err := a.tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("rendering prompt template: %w", err)
	}
	p.Text = sb.String()
	return p, nil
}

// choosePhoto cycles over photo file names so moving the directory does not
// reset the cycle.
func (a *Assembler) choosePhoto(ctx context.Context) (string, bool, error) {
	paths, err := lines.Photos(a.cfg.PhotosDir)
	if err != nil {
		return "", false, err
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	res, err := a.chooser.Select(ctx, PhotosKey, names)
	if err != nil {
		return "", false, err
	}
	return filepath.Join(a.cfg.PhotosDir, res.Item), res.Fallback, nil
}
