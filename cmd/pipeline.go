package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/isdrec/internal/service"
)

// executePipeline runs the pipeline steps that follow startStep, so that
// 'isdrec record -p rp' plays the recording back afterwards.
func executePipeline(ctx context.Context, svc service.Service, startStep rune, req service.RecordRequest, volume uint8) error {
	if pipeline == "" {
		return nil
	}

	steps := strings.ToLower(pipeline)
	startIndex := strings.IndexRune(steps, startStep)
	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	rest := steps[startIndex+1:]
	if rest == "" {
		return nil
	}
	fmt.Printf("Pipeline: executing steps '%s'...\n", rest)
	return svc.RunPipeline(ctx, rest, req, volume)
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'e': true, // erase
		'r': true, // record
		'p': true, // play
	}

	for _, step := range strings.ToLower(pipeline) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: e=erase, r=record, p=play)", step)
		}
	}

	return nil
}
