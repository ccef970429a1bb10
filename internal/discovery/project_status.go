package discovery

import (
	"translation-gt/internal/model"
)

type BatchStatus struct {
	Group       string `json:"group"`
	Base        string `json:"base"`
	Total       int    `json:"total"`
	Done        int    `json:"done"`
	Quarantined int    `json:"quarantined"`
	Remaining   int    `json:"remaining"`
}

type SurveyResult struct {
	WorkRoot    string        `json:"work_root"`
	OutputRoot  string        `json:"output_root"`
	Total       int           `json:"total"`
	Done        int           `json:"done"`
	Quarantined int           `json:"quarantined"`
	Remaining   int           `json:"remaining"`
	Batches     []BatchStatus `json:"batches"`
}

// Survey rolls up every input under the work root by batch. A quarantined
// job whose output later appeared counts as done.
func Survey(opts Options, quarantined map[string]bool) (SurveyResult, error) {
	sc, err := newScanner(opts)
	if err != nil {
		return SurveyResult{}, err
	}

	res := SurveyResult{
		WorkRoot:   opts.WorkRoot,
		OutputRoot: opts.OutputRoot,
		Batches:    []BatchStatus{},
	}
	index := map[[2]string]int{}
	var walkErr error
	sc.walk(func(job model.Job, done bool, err error) bool {
		if err != nil {
			walkErr = err
			return false
		}
		key := [2]string{job.Group, job.Base}
		i, ok := index[key]
		if !ok {
			i = len(res.Batches)
			index[key] = i
			res.Batches = append(res.Batches, BatchStatus{Group: job.Group, Base: job.Base})
		}
		b := &res.Batches[i]
		b.Total++
		res.Total++
		switch {
		case done:
			b.Done++
			res.Done++
		case quarantined[job.ID]:
			b.Quarantined++
			res.Quarantined++
		default:
			b.Remaining++
			res.Remaining++
		}
		return true
	})
	if walkErr != nil {
		return SurveyResult{}, walkErr
	}
	return res, nil
}
