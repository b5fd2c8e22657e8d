package template

import (
	"fmt"
	"time"
)

// TemplateType selects a starter template from the Generator.
type TemplateType string

const (
	TypeWeb     TemplateType = "web"
	TypeAPI     TemplateType = "api"
	TypeWorker  TemplateType = "worker"
	TypeNodeDev TemplateType = "nodejs-dev"
	TypePython  TemplateType = "python-venv"
	TypeTail    TemplateType = "tail-logs"
	TypeSimple  TemplateType = "simple"
)

// Generator produces starter templates.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeWorker),
		string(TypeNodeDev),
		string(TypePython),
		string(TypeTail),
		string(TypeSimple),
	}
}

// Generate creates a template of the given type under id.
func (g *Generator) Generate(templateType TemplateType, id string) (Template, error) {
	var t Template
	switch templateType {
	case TypeWeb:
		t = g.web()
	case TypeAPI:
		t = g.api()
	case TypeWorker:
		t = g.worker()
	case TypeNodeDev:
		t = g.nodeDev()
	case TypePython:
		t = g.pythonVenv()
	case TypeTail:
		t = g.tailLogs()
	case TypeSimple:
		t = g.simple()
	default:
		return Template{}, fmt.Errorf("unknown template type: %s (supported: %v)", templateType, g.GetSupportedTypes())
	}
	if id != "" {
		t.ID = id
	}
	now := g.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return t, nil
}

// Builtins returns one template of every supported type under its default id.
func (g *Generator) Builtins() []Template {
	out := make([]Template, 0, len(g.GetSupportedTypes()))
	for _, typ := range g.GetSupportedTypes() {
		t, _ := g.Generate(TemplateType(typ), "")
		out = append(out, t)
	}
	return out
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func portVar(def string) Variable {
	return Variable{
		Name:        "PORT",
		Description: "Listen port",
		Type:        VarNumber,
		Default:     strPtr(def),
		Validation: &Validation{
			Min:          i64Ptr(1024),
			Max:          i64Ptr(65535),
			ErrorMessage: "Port must be between 1024 and 65535",
		},
	}
}

func projectVar() Variable {
	return Variable{Name: "PROJECT_PATH", Description: "Path to the project directory", Type: VarPath, Required: true}
}

func (g *Generator) web() Template {
	return Template{
		ID:          "web",
		Name:        "Static web server",
		Description: "Serve a directory over HTTP with Python's built-in server",
		Category:    "development",
		Command:     "python3",
		Args:        []string{"-m", "http.server", "{{PORT}}"},
		Env:         map[string]string{"ENV": "{{ENV}}"},
		DefaultCwd:  "{{PROJECT_PATH}}",
		Variables: []Variable{
			portVar("8000"),
			{Name: "ENV", Type: VarEnum, Options: []string{"development", "production"}, Default: strPtr("development")},
			projectVar(),
		},
		Tags: []string{"web"},
	}
}

func (g *Generator) api() Template {
	return Template{
		ID:          "api",
		Name:        "API service",
		Description: "Run an API server binary",
		Category:    "service",
		Command:     "{{BINARY}}",
		Args:        []string{},
		Env:         map[string]string{"PORT": "{{PORT}}", "LOG_LEVEL": "{{LOG_LEVEL}}"},
		DefaultCwd:  "{{PROJECT_PATH}}",
		Variables: []Variable{
			{Name: "BINARY", Description: "Server executable", Type: VarPath, Default: strPtr("./api-server")},
			portVar("3000"),
			{Name: "LOG_LEVEL", Type: VarEnum, Options: []string{"debug", "info", "warn", "error"}, Default: strPtr("info")},
			projectVar(),
		},
		DefaultAutoStart: true,
		Tags:             []string{"api", "service"},
	}
}

func (g *Generator) worker() Template {
	return Template{
		ID:          "worker",
		Name:        "Background worker",
		Description: "Run a background worker binary",
		Category:    "service",
		Command:     "{{BINARY}}",
		Args:        []string{},
		Env:         map[string]string{"WORKER_THREADS": "{{THREADS}}", "LOG_LEVEL": "info"},
		DefaultCwd:  "{{PROJECT_PATH}}",
		Variables: []Variable{
			{Name: "BINARY", Description: "Worker executable", Type: VarPath, Default: strPtr("./worker")},
			{Name: "THREADS", Type: VarNumber, Default: strPtr("4"), Validation: &Validation{Min: i64Ptr(1), Max: i64Ptr(256)}},
			projectVar(),
		},
		DefaultAutoStart: true,
		Tags:             []string{"worker"},
	}
}

func (g *Generator) nodeDev() Template {
	return Template{
		ID:          "nodejs-dev",
		Name:        "Node.js Development Server",
		Description: "Run a Node.js development server with hot reload",
		Category:    "development",
		Command:     "npm",
		Args:        []string{"run", "dev"},
		Env:         map[string]string{"NODE_ENV": "development", "PORT": "{{PORT}}"},
		DefaultCwd:  "{{PROJECT_PATH}}",
		Variables:   []Variable{portVar("3000"), projectVar()},
		Tags:        []string{"development", "nodejs"},
	}
}

func (g *Generator) pythonVenv() Template {
	return Template{
		ID:          "python-venv",
		Name:        "Python Virtual Environment",
		Description: "Run Python script in a virtual environment",
		Category:    "development",
		Command:     "{{VENV_PATH}}/bin/python",
		Args:        []string{"{{SCRIPT_PATH}}"},
		Env:         map[string]string{"PYTHONPATH": "{{PROJECT_PATH}}"},
		DefaultCwd:  "{{PROJECT_PATH}}",
		Variables: []Variable{
			{Name: "VENV_PATH", Description: "Path to Python virtual environment", Type: VarPath, Default: strPtr(".venv"), Required: true},
			{Name: "SCRIPT_PATH", Description: "Path to Python script", Type: VarPath, Required: true},
			projectVar(),
		},
		Tags: []string{"development", "python"},
	}
}

func (g *Generator) tailLogs() Template {
	return Template{
		ID:          "tail-logs",
		Name:        "Log File Monitor",
		Description: "Monitor log file changes in real-time",
		Category:    "monitoring",
		Command:     "tail",
		Args:        []string{"-F", "{{LOG_FILE}}"},
		Variables: []Variable{
			{Name: "LOG_FILE", Description: "Path to the log file", Type: VarPath, Required: true},
		},
		Tags: []string{"logs", "monitoring"},
	}
}

func (g *Generator) simple() Template {
	return Template{
		ID:        "simple",
		Name:      "Echo",
		Command:   "echo",
		Args:      []string{"{{MESSAGE}}"},
		Variables: []Variable{{Name: "MESSAGE", Type: VarString, Default: strPtr("hello")}},
	}
}
