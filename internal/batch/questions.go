// Package batch runs a file of questions through the analyst concurrently.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// QuestionFile is a named list of questions.
type QuestionFile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Questions   []Question `yaml:"questions"`
}

// Question is one entry of a QuestionFile. IDs default to q1, q2, ...
type Question struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
}

// QuestionFileLoader loads a QuestionFile from a path.
type QuestionFileLoader interface {
	Load(path string) (*QuestionFile, error)
	Format() string // e.g., "yaml", "json"
}

var loaderRegistry = make(map[string]QuestionFileLoader)

// RegisterLoader registers a loader under its format name.
func RegisterLoader(loader QuestionFileLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name.
func GetLoader(format string) (QuestionFileLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader decodes YAML question files. JSON files decode with it too.
type YAMLLoader struct {
	format string
}

func (l YAMLLoader) Load(path string) (*QuestionFile, error) {
	return LoadQuestionFile(path)
}

func (l YAMLLoader) Format() string { return l.format }

func init() {
	RegisterLoader(YAMLLoader{format: "yaml"})
	RegisterLoader(YAMLLoader{format: "json"})
}

// LoadQuestionFile parses a YAML question file.
func LoadQuestionFile(path string) (*QuestionFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open question file: %w", err)
	}
	defer f.Close()
	var qf QuestionFile
	if err := yaml.NewDecoder(f).Decode(&qf); err != nil {
		return nil, fmt.Errorf("failed to parse question file: %w", err)
	}
	return &qf, nil
}

// Validate trims questions, fills missing IDs and rejects empty or duplicate entries.
func (qf *QuestionFile) Validate() error {
	if len(qf.Questions) == 0 {
		return fmt.Errorf("question file has no questions")
	}
	ids := make(map[string]struct{}, len(qf.Questions))
	for i := range qf.Questions {
		q := &qf.Questions[i]
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			return fmt.Errorf("question %d is empty", i+1)
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		if _, exists := ids[q.ID]; exists {
			return fmt.Errorf("duplicate question ID found: %s", q.ID)
		}
		ids[q.ID] = struct{}{}
	}
	return nil
}

// LoadAndValidate picks a loader by file extension, loads and validates the file.
func LoadAndValidate(path string) (*QuestionFile, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "yml" {
		format = "yaml"
	}
	loader, ok := GetLoader(format)
	if !ok {
		return nil, fmt.Errorf("no question file loader registered for %q", format)
	}
	qf, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := qf.Validate(); err != nil {
		return nil, err
	}
	return qf, nil
}
