package runstore

import "path/filepath"

// StateDirName is the bookkeeping directory kept under the output root.
const StateDirName = ".translation-gt"

func StateDir(outputRoot string) string {
	return filepath.Join(outputRoot, StateDirName)
}

func RunsDir(stateDir string) string {
	return filepath.Join(stateDir, "runs")
}

func RunDir(stateDir, runID string) string {
	return filepath.Join(RunsDir(stateDir), runID)
}

func ManifestPath(runDir string) string {
	return filepath.Join(runDir, "manifest.jobs.json")
}

func QuarantinePath(stateDir string) string {
	return filepath.Join(stateDir, "quarantine.log")
}

func LogsDir(stateDir string) string {
	return filepath.Join(stateDir, "logs")
}

func DownloadsDir(stateDir string) string {
	return filepath.Join(stateDir, "downloads")
}
