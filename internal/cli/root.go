package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runRun(args[1:])
	case "discover":
		return runDiscover(args[1:])
	case "status":
		return runStatus(args[1:])
	case "quarantine":
		return runQuarantine(args[1:])
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "config":
		return runConfig(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("translation-gt: resumable batch translation through a browser translation service")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  translation-gt init")
	fmt.Println("  translation-gt run --target-lang de")
	fmt.Println("  translation-gt status")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run         translate every pending chunk; rerun to resume")
	fmt.Println("  discover    list pending chunks grouped by source document")
	fmt.Println("  status      progress rollup plus the last run's outcome")
	fmt.Println("  quarantine  list jobs that exhausted their retries")
	fmt.Println("  init        write a default config and create the work/output roots")
	fmt.Println("  doctor      run dependency and filesystem preflight checks")
	fmt.Println("  config      show the resolved configuration (config show|init)")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Flags override translation-gt.yaml, which overrides built-in defaults")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Quarantined jobs are skipped until run --retry-quarantined")
}
