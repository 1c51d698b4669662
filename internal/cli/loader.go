package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/earshot/internal/compiler"
	"github.com/roach88/earshot/internal/graph"
)

// LoadMode controls how errors are handled during asset loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the event graphs loaded from an assets directory.
type LoadResult struct {
	Events    []*graph.Graph
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Event returns the loaded event named name, or nil.
func (r *LoadResult) Event(name string) *graph.Graph {
	for _, g := range r.Events {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// LoadError represents an error that occurred during asset loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadEvents loads the CUE package in dir and compiles every event under
// its "event" struct.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadEvents(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("assets directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing assets directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	eventsVal := value.LookupPath(cue.ParsePath("event"))
	if !eventsVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoEvents, Message: "no events defined in assets"}}
	}

	iter, err := eventsVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating events: %v", err)}}
	}
	for iter.Next() {
		g, compileErr := compiler.CompileEvent(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "event."+iter.Selector().String()))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Events = append(result.Events, g)
	}

	if len(result.Events) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoEvents, Message: "no events defined in assets"})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoEvents    = "E008" // No event definitions

	// Asset compile errors
	ErrCodeInvalidNodeType   = "E010" // Unknown or reserved node type
	ErrCodeInvalidConnection = "E011" // Malformed or dangling connection
	ErrCodeInvalidParameter  = "E012" // Bad parameter declaration
	ErrCodeInvalidRange      = "E013" // Malformed [min, max] range
	ErrCodeInvalidCurve      = "E014" // Malformed or unsorted curve
	ErrCodeInvalidNode       = "E015" // Duplicate or malformed node

	// Playback errors
	ErrCodeUnknownEvent = "E020" // Event name not defined
	ErrCodePlayFailed   = "E021" // Play request rejected or failed
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "type":
		return ErrCodeInvalidNodeType
	case field == "connections":
		return ErrCodeInvalidConnection
	case strings.HasPrefix(field, "parameters"):
		return ErrCodeInvalidParameter
	case field == "volume", field == "pitch", field == "start":
		return ErrCodeInvalidRange
	case field == "curve":
		return ErrCodeInvalidCurve
	case field == "nodes":
		return ErrCodeInvalidNode
	case field == "event":
		return ErrCodeNoEvents
	default:
		return ErrCodeGeneric
	}
}
