package main

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/repoqa/pkg/rag"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

var stageLabels = map[rag.State]string{
	rag.StateCleaning:   "Removing previous index",
	rag.StateFetching:   "Cloning repository",
	rag.StateCollecting: "Collecting files",
	rag.StateChunking:   "Splitting documents",
	rag.StatePersisting: "Saving vector store",
	rag.StateRestoring:  "Loading saved index",
}

// progressUI renders indexing progress in the terminal. A spinner covers
// each stage and the embedding stage gets a bar fed by the embedder.
type progressUI struct {
	mu      sync.Mutex
	spinner *progressbar.ProgressBar
	bar     *progressbar.ProgressBar
}

func (p *progressUI) stateChanged(state rag.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishLocked()

	switch state {
	case rag.StateReady:
		color.Green("✓ Knowledge base ready")
	case rag.StateFailed:
		color.Red("✗ Indexing failed")
	case rag.StateEmbedding, rag.StateIdle:
	default:
		if label, ok := stageLabels[state]; ok {
			p.spinner = getSpinner(label)
		}
	}
}

func (p *progressUI) embedProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = getProgressBar(total, "Embedding chunks")
	}
	_ = p.bar.Set(done)
}

func (p *progressUI) finishLocked() {
	if p.spinner != nil {
		_ = p.spinner.Finish()
		fmt.Println()
		p.spinner = nil
	}
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Println()
		p.bar = nil
	}
}
