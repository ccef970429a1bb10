package discovery

import (
	"os"
	"strings"

	"translation-gt/internal/gtdriver"
	"translation-gt/internal/runstore"
)

type DoctorOptions struct {
	Driver     string
	WorkRoot   string
	OutputRoot string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type InitWorkspaceOptions struct {
	Driver     string
	WorkRoot   string
	OutputRoot string
}

type InitWorkspaceResult struct {
	WorkRoot          string       `json:"work_root"`
	OutputRoot        string       `json:"output_root"`
	CreatedWorkRoot   bool         `json:"created_work_root"`
	CreatedOutputRoot bool         `json:"created_output_root"`
	DoctorResult      DoctorResult `json:"doctor"`
}

func Doctor(opts DoctorOptions) (DoctorResult, error) {
	checks := make([]DoctorCheck, 0, 4)

	dep := gtdriver.DependencyStatus(opts.Driver)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:driver",
		OK:      dep.DriverFound,
		Message: dependencyMessage(dep.DriverFound, dep.DriverPath, opts.Driver),
	})

	workOK, workMessage := readableDir(opts.WorkRoot)
	checks = append(checks, DoctorCheck{
		Name:    "directory:work_root",
		OK:      workOK,
		Message: workMessage,
	})

	outOK, outMessage := ensureWritableDir(opts.OutputRoot)
	checks = append(checks, DoctorCheck{
		Name:    "directory:output_root",
		OK:      outOK,
		Message: outMessage,
	})

	stateOK, stateMessage := ensureWritableDir(runstore.StateDir(opts.OutputRoot))
	checks = append(checks, DoctorCheck{
		Name:    "directory:state",
		OK:      stateOK,
		Message: stateMessage,
	})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}

	return DoctorResult{OK: ok, Checks: checks}, nil
}

// InitWorkspace creates the work and output roots, then runs Doctor.
func InitWorkspace(opts InitWorkspaceOptions) (InitWorkspaceResult, error) {
	res := InitWorkspaceResult{WorkRoot: opts.WorkRoot, OutputRoot: opts.OutputRoot}
	if _, err := os.Stat(opts.WorkRoot); os.IsNotExist(err) {
		res.CreatedWorkRoot = true
	}
	if err := runstore.Mkdir(opts.WorkRoot); err != nil {
		return InitWorkspaceResult{}, err
	}
	if _, err := os.Stat(opts.OutputRoot); os.IsNotExist(err) {
		res.CreatedOutputRoot = true
	}
	if err := runstore.Mkdir(opts.OutputRoot); err != nil {
		return InitWorkspaceResult{}, err
	}

	doc, err := Doctor(DoctorOptions(opts))
	if err != nil {
		return InitWorkspaceResult{}, err
	}
	res.DoctorResult = doc
	return res, nil
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func readableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err.Error()
	}
	if len(entries) == 0 {
		return true, "readable (empty)"
	}
	return true, "readable"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "translation-gt-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
