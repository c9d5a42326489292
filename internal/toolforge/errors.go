package toolforge

import (
	"errors"
	"fmt"
)

// Stage identifies one phase of the build pipeline.
type Stage string

const (
	StageWorkspace Stage = "workspace"
	StageFetch     Stage = "fetch"
	StageUnpack    Stage = "unpack"
	StageConfigure Stage = "configure"
	StageCompile   Stage = "compile"
	StageInstall   Stage = "install"
	StagePublish   Stage = "publish"
)

var (
	errTargetNotFound = errors.New("target not found")

	// ErrWorkspaceExists is returned when the build or source directory is
	// already present. The workspace must be removed manually before a retry.
	ErrWorkspaceExists = errors.New("workspace directory already exists")

	// ErrWorkspaceNested is returned when the build and source directories
	// would nest inside one another.
	ErrWorkspaceNested = errors.New("build and source directories must not nest")

	// ErrUnsupportedFormat is returned for archive suffixes outside the
	// supported codec set (.gz, .bz2, .xz).
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrRelocateFailed is returned when an in-source relocation cannot be
	// performed.
	ErrRelocateFailed = errors.New("relocation failed")
)

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
