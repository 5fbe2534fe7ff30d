package generator

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// RuleBased generates changes from an ordered table of keyword rules. It is
// pure: the same snapshot and prompt always produce the same ChangeSet.
//
// Precedence: rules are evaluated in table order and every matching rule
// contributes edits. A later edit to a path already claimed by an earlier
// rule is discarded (first writer wins), which keeps paths unique without
// making the outcome depend on map iteration or anything else unstable.
type RuleBased struct {
	rules []rule
}

type rule struct {
	name     string
	keywords []string
	apply    func(snap *Snapshot, prompt string) []FileEdit
}

// NewRuleBased creates the rule-based generator with the standard table.
func NewRuleBased() *RuleBased {
	return &RuleBased{rules: standardRules()}
}

// Name returns "rule-based".
func (g *RuleBased) Name() string { return "rule-based" }

// Generate matches the prompt against the rule table. Unmatched prompts
// fall back to recording the request in a notes file, so the generator
// never returns an empty ChangeSet.
func (g *RuleBased) Generate(ctx context.Context, snap *Snapshot, prompt string) (ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GenerationError{Generator: g.Name(), Msg: "canceled", Err: err}
	}

	lower := strings.ToLower(prompt)
	var cs ChangeSet
	claimed := make(map[string]bool)

	add := func(edits []FileEdit) {
		for _, edit := range edits {
			if claimed[edit.Path] {
				continue
			}
			claimed[edit.Path] = true
			cs = append(cs, edit)
		}
	}

	for _, r := range g.rules {
		if matchesAny(lower, r.keywords) {
			add(r.apply(snap, prompt))
		}
	}

	if len(cs) == 0 {
		add(recordInNotes(snap, prompt))
	}

	if err := cs.Validate(); err != nil {
		return nil, &GenerationError{Generator: g.Name(), Msg: "invalid change set", Err: err}
	}
	return cs, nil
}

func matchesAny(prompt string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(prompt, kw) {
			return true
		}
	}
	return false
}

func standardRules() []rule {
	return []rule{
		{
			name:     "input-validation",
			keywords: []string{"validation", "validate", "input"},
			apply:    addInputValidation,
		},
		{
			name:     "error-handling",
			keywords: []string{"error", "exception"},
			apply:    addErrorHandling,
		},
		{
			name:     "tests",
			keywords: []string{"test"},
			apply:    addTests,
		},
		{
			name:     "readme",
			keywords: []string{"readme", "documentation"},
			apply:    addReadme,
		},
		{
			name:     "hello-function",
			keywords: []string{"hello"},
			apply:    addHelloFunction,
		},
	}
}

// sourceFiles returns the snapshot's Python files that are not tests and
// whose content was captured, in sorted order.
func sourceFiles(snap *Snapshot) []string {
	var out []string
	for _, f := range snap.FilesWithExt(".py") {
		if strings.Contains(strings.ToLower(f), "test") {
			continue
		}
		if _, ok := snap.Content(f); ok {
			out = append(out, f)
		}
	}
	return out
}

const validationHelper = `from typing import Any, Dict


def validate_payload(payload: Dict[str, Any]) -> Dict[str, Any]:
    """Reject request bodies that are not JSON objects."""
    if not isinstance(payload, dict):
        raise ValueError("request payload must be a JSON object")
    return payload


`

func addInputValidation(snap *Snapshot, prompt string) []FileEdit {
	var edits []FileEdit
	for _, f := range sourceFiles(snap) {
		content, _ := snap.Content(f)
		if !strings.Contains(content, "def ") {
			continue
		}
		edits = append(edits, FileEdit{
			Path:        f,
			Kind:        KindModify,
			Content:     validationHelper + content,
			Description: fmt.Sprintf("Added input validation helpers to %s", f),
		})
		testPath := testFileFor(f)
		if !snap.Has(testPath) {
			edits = append(edits, FileEdit{
				Path:        testPath,
				Kind:        KindCreate,
				Content:     validationTestContent(f),
				Description: fmt.Sprintf("Created %s covering payload validation", testPath),
			})
		}
	}
	return edits
}

func validationTestContent(source string) string {
	module := strings.TrimSuffix(path.Base(source), ".py")
	return fmt.Sprintf(`import unittest

from %s import validate_payload


class TestValidatePayload(unittest.TestCase):
    def test_accepts_object(self):
        self.assertEqual(validate_payload({"name": "x"}), {"name": "x"})

    def test_rejects_non_object(self):
        with self.assertRaises(ValueError):
            validate_payload(["not", "an", "object"])


if __name__ == "__main__":
    unittest.main()
`, module)
}

const errorHandlerHelper = `

def handle_error(err: Exception) -> dict:
    """Uniform error envelope for request handlers."""
    return {"error": str(err)}
`

func addErrorHandling(snap *Snapshot, prompt string) []FileEdit {
	var edits []FileEdit
	for _, f := range sourceFiles(snap) {
		content, _ := snap.Content(f)
		if !strings.Contains(content, "def ") || strings.Contains(content, "def handle_error") {
			continue
		}
		edits = append(edits, FileEdit{
			Path:        f,
			Kind:        KindModify,
			Content:     strings.TrimRight(content, "\n") + "\n" + errorHandlerHelper,
			Description: fmt.Sprintf("Added error handling helper to %s", f),
		})
	}
	return edits
}

func addTests(snap *Snapshot, prompt string) []FileEdit {
	var edits []FileEdit
	for _, f := range sourceFiles(snap) {
		base := path.Base(f)
		if base != "main.py" && base != "app.py" {
			continue
		}
		testPath := testFileFor(f)
		if snap.Has(testPath) {
			continue
		}
		module := strings.TrimSuffix(base, ".py")
		className := strings.ToUpper(module[:1]) + module[1:]
		edits = append(edits, FileEdit{
			Path: testPath,
			Kind: KindCreate,
			Content: fmt.Sprintf(`import unittest

import %s


class Test%s(unittest.TestCase):
    def test_module_imports(self):
        self.assertIsNotNone(%s)


if __name__ == "__main__":
    unittest.main()
`, module, className, module),
			Description: fmt.Sprintf("Created test file %s", testPath),
		})
	}
	return edits
}

func addReadme(snap *Snapshot, prompt string) []FileEdit {
	content := fmt.Sprintf(`# Project

## Recent changes

- %s
`, prompt)
	if existing, ok := snap.Content("README.md"); ok {
		return []FileEdit{{
			Path:        "README.md",
			Kind:        KindModify,
			Content:     strings.TrimRight(existing, "\n") + fmt.Sprintf("\n\n## Recent changes\n\n- %s\n", prompt),
			Description: "Updated README.md with the requested change",
		}}
	}
	return []FileEdit{{
		Path:        "README.md",
		Kind:        KindCreate,
		Content:     content,
		Description: "Created README.md with a project description",
	}}
}

func addHelloFunction(snap *Snapshot, prompt string) []FileEdit {
	if snap.Has("hello.py") {
		return nil
	}
	return []FileEdit{{
		Path: "hello.py",
		Kind: KindCreate,
		Content: `def hello(name="World"):
    """A simple hello function."""
    return f"Hello, {name}!"


if __name__ == "__main__":
    print(hello())
`,
		Description: "Created hello.py with a hello function",
	}}
}

// recordInNotes is the fallback for prompts no rule matches: the request is
// recorded in NOTES.md so every run has a well-defined, non-empty outcome.
func recordInNotes(snap *Snapshot, prompt string) []FileEdit {
	line := fmt.Sprintf("- %s\n", prompt)
	if existing, ok := snap.Content("NOTES.md"); ok {
		return []FileEdit{{
			Path:        "NOTES.md",
			Kind:        KindModify,
			Content:     strings.TrimRight(existing, "\n") + "\n" + line,
			Description: "Recorded the request in NOTES.md",
		}}
	}
	return []FileEdit{{
		Path:        "NOTES.md",
		Kind:        KindCreate,
		Content:     "# Notes\n\nRequested changes without a matching transformation:\n\n" + line,
		Description: "Recorded the request in NOTES.md",
	}}
}

// testFileFor maps a source path to its sibling test path:
// pkg/app.py -> pkg/app_test.py.
func testFileFor(source string) string {
	return strings.TrimSuffix(source, ".py") + "_test.py"
}
