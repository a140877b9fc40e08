package lanchain

// files.go probes the file system before a run, so that a missing input or an
// unwritable output directory is reported before any simulation work is done.

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckDirectories probes the file system for the existence of every
// directory listed.  Returns a boolean indicating whether all dirs are
// valid, and an aggregated error if any checks failed.
func CheckDirectories(dirs []string) (bool, error) {
	errs := []error{}

	// for every offered (non-empty) directory
	for _, dir := range dirs {
		if len(dir) == 0 {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s not reachable: %w", dir, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("%s not a directory", dir))
		}
	}

	if err := ReportErrs(errs); err != nil {
		return false, err
	}
	return true, nil
}

// CheckFiles makes sure the directory of every named file exists and, when
// checkExistence is set, that the file itself does
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := []error{}

	for _, name := range names {
		// skip empty names
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if len(directory) > 0 {
			if _, err := os.Stat(directory); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := ReportErrs(errs); err != nil {
		return false, err
	}
	return true, nil
}

// CheckReadableFiles checks that every named file exists
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles checks that every named file can be created
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// PrepareOutputDir creates dir when needed and checks that files can be made in it
func PrepareOutputDir(dir string) error {
	if len(dir) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".lanchain-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
