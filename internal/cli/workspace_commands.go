package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"translation-gt/internal/batch"
	"translation-gt/internal/config"
	"translation-gt/internal/discovery"
	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
)

type lastRunView struct {
	RunID       string `json:"run_id"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Quarantined int    `json:"quarantined"`
	Pending     int    `json:"pending"`
	Failed      int    `json:"failed"`
	InFlight    int    `json:"in_flight"`
	Unfinished  int    `json:"unfinished"`
	Finished    bool   `json:"finished"`
	Interrupted bool   `json:"interrupted"`
	// Stale counts jobs a crashed run left in flight.
	Stale int `json:"stale,omitempty"`
}

type statusResult struct {
	discovery.SurveyResult
	Running bool         `json:"running"`
	LastRun *lastRunView `json:"last_run,omitempty"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, nil)
	if err != nil {
		return err
	}

	stateDir := runstore.StateDir(s.OutputRoot)
	quarantined, err := runstore.QuarantinedIDs(runstore.QuarantinePath(stateDir))
	if err != nil {
		return err
	}
	survey, err := discovery.Survey(discovery.Options{
		WorkRoot:   s.WorkRoot,
		OutputRoot: s.OutputRoot,
		Ext:        s.InputExt,
	}, quarantined)
	if err != nil {
		return err
	}
	res := statusResult{SurveyResult: survey, Running: runstore.IsLocked(stateDir)}
	last, err := loadLastRun(stateDir, res.Running)
	if err != nil {
		return err
	}
	res.LastRun = last

	if *jsonOut {
		return printJSON(res)
	}

	fmt.Printf("work_root: %s\n", res.WorkRoot)
	fmt.Printf("output_root: %s\n", res.OutputRoot)
	fmt.Printf("total: %d\n", res.Total)
	fmt.Printf("done: %d\n", res.Done)
	fmt.Printf("quarantined: %d\n", res.Quarantined)
	fmt.Printf("remaining: %d\n", res.Remaining)
	fmt.Printf("running: %t\n", res.Running)
	for _, b := range res.Batches {
		fmt.Printf("- %s | done %d/%d | quarantined %d | remaining %d\n", batchLabel(b.Group, b.Base), b.Done, b.Total, b.Quarantined, b.Remaining)
	}
	if last != nil {
		state := "finished"
		switch {
		case res.Running:
			state = "running"
		case last.Interrupted:
			state = "interrupted"
		case last.Stale > 0:
			state = fmt.Sprintf("crashed (%d jobs were in flight)", last.Stale)
		case !last.Finished:
			state = "incomplete"
		}
		fmt.Printf("last_run: %s | %s | succeeded %d | quarantined %d | unfinished %d\n",
			last.RunID, state, last.Succeeded, last.Quarantined, last.Unfinished)
	}
	return nil
}

// loadLastRun summarizes the newest run manifest. Jobs a dead run left in
// flight are reported as pending.
func loadLastRun(stateDir string, running bool) (*lastRunView, error) {
	dirs, err := runstore.ListRunDirs(runstore.RunsDir(stateDir))
	if err != nil || len(dirs) == 0 {
		return nil, err
	}
	path := runstore.ManifestPath(dirs[len(dirs)-1])
	var mf model.RunManifest
	if err := runstore.ReadJSON(path, &mf); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	unfinished := 0
	for _, j := range mf.Jobs {
		if !model.IsKnownStatus(j.Status) {
			return nil, fmt.Errorf("manifest %s: job %s has unknown status %q", path, j.ID, j.Status)
		}
		if !model.IsTerminal(j.Status) {
			unfinished++
		}
	}
	stale := 0
	if !running && !mf.Finished {
		stale = batch.ResetStaleInFlight(&mf)
	}
	return &lastRunView{
		RunID:       mf.RunID,
		UpdatedAt:   mf.UpdatedAt,
		Total:       mf.Total,
		Succeeded:   mf.Succeeded,
		Quarantined: mf.Quarantined,
		Pending:     mf.Pending,
		Failed:      mf.Failed,
		InFlight:    mf.InFlight,
		Unfinished:  unfinished,
		Finished:    mf.Finished,
		Interrupted: mf.Interrupted,
		Stale:       stale,
	}, nil
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	retryQuarantined := fs.Bool("retry-quarantined", false, "include jobs quarantined by earlier runs")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, nil)
	if err != nil {
		return err
	}

	exclude := map[string]bool{}
	if !*retryQuarantined {
		exclude, err = runstore.QuarantinedIDs(runstore.QuarantinePath(runstore.StateDir(s.OutputRoot)))
		if err != nil {
			return err
		}
	}
	jobs, err := discovery.Pending(discovery.Options{
		WorkRoot:   s.WorkRoot,
		OutputRoot: s.OutputRoot,
		Ext:        s.InputExt,
		Exclude:    exclude,
	})
	if err != nil {
		return err
	}
	batches := discovery.Batches(jobs)
	if *jsonOut {
		return printJSON(batches)
	}

	fmt.Printf("pending: %d jobs in %d batches\n", len(jobs), len(batches))
	for _, b := range batches {
		fmt.Printf("- %s | %d chunks\n", batchLabel(b.Group, b.Base), len(b.Jobs))
		for _, j := range b.Jobs {
			fmt.Printf("    %s\n", j.ID)
		}
	}
	return nil
}

func runQuarantine(args []string) error {
	fs := flag.NewFlagSet("quarantine", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, nil)
	if err != nil {
		return err
	}

	path := runstore.QuarantinePath(runstore.StateDir(s.OutputRoot))
	entries, err := runstore.ReadQuarantine(path)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(entries)
	}

	fmt.Printf("quarantine_log: %s\n", path)
	if len(entries) == 0 {
		fmt.Println("no quarantined jobs")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("- %s | %s | attempts %d | %s\n", e.At, e.JobID, e.Attempts, e.Reason)
	}
	fmt.Println("next: translation-gt run --retry-quarantined")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, nil)
	if err != nil {
		return err
	}

	res, err := discovery.Doctor(discovery.DoctorOptions{
		Driver:     s.Driver,
		WorkRoot:   s.WorkRoot,
		OutputRoot: s.OutputRoot,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	printChecks("", res.Checks)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	force := fs.Bool("force", false, "overwrite an existing config file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	created, err := config.WriteDefault(*pf.config, *force)
	if err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, nil)
	if err != nil {
		return err
	}
	res, err := discovery.InitWorkspace(discovery.InitWorkspaceOptions{
		Driver:     s.Driver,
		WorkRoot:   s.WorkRoot,
		OutputRoot: s.OutputRoot,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(struct {
			discovery.InitWorkspaceResult
			Config        string `json:"config"`
			CreatedConfig bool   `json:"created_config"`
		}{res, *pf.config, created})
	}

	fmt.Println("workspace initialized")
	fmt.Printf("config: %s\n", *pf.config)
	fmt.Printf("created_config: %t\n", created)
	fmt.Printf("work_root: %s\n", res.WorkRoot)
	fmt.Printf("output_root: %s\n", res.OutputRoot)
	fmt.Println("checks:")
	printChecks("  ", res.DoctorResult.Checks)
	if !res.DoctorResult.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: set target_lang in the config, then translation-gt run")
	return nil
}

func runConfig(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return runConfigShow(args)
	}
	switch args[0] {
	case "show":
		return runConfigShow(args[1:])
	case "init":
		return runInit(args[1:])
	default:
		return fmt.Errorf("unknown config subcommand %q (expected show|init)", args[0])
	}
}

func runConfigShow(args []string) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	rf := registerRunFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := resolveSettings(fs, pf, rf)
	if err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	if err := s.Validate(); err != nil {
		fmt.Printf("# invalid: %v\n", err)
	}
	return nil
}

func printChecks(indent string, checks []discovery.DoctorCheck) {
	for _, c := range checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, status, c.Message)
	}
}

func batchLabel(group, base string) string {
	if group == "" {
		return base
	}
	return group + "/" + base
}
