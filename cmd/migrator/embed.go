package main

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

// Migration filename standard: NNN_name.up.sql / NNN_name.down.sql. Anything
// else in the embedded set is rejected before a single migration runs.
var migrationNameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ErrEmptyMigrationSet is returned when the embedded filesystem holds no
// migration files at all.
var ErrEmptyMigrationSet = errors.New("embedded migration set is empty")

type (
	// migrationSet wraps the embedded schema filesystem and validates it:
	// filename format, up/down pairing, gapless sequence starting at 001,
	// and content checksums across repeated validation runs.
	migrationSet struct {
		fsys fs.FS

		// checksums records SHA-256 per filename on the first Validate so a
		// later run can detect a file changing underneath the tool.
		checksums map[string]string
	}

	// migrationFile is one parsed migration filename.
	migrationFile struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
	}
)

func newMigrationSet(fsys fs.FS) *migrationSet {
	return &migrationSet{
		fsys:      fsys,
		checksums: make(map[string]string),
	}
}

// List returns the migration filenames in lexicographic order, which the
// naming standard makes identical to execution order. Files that do not match
// the standard are reported as errors, not silently skipped: an overlooked
// typo would otherwise drop a migration from the set.
func (s *migrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !migrationNameRegex.MatchString(entry.Name()) {
			return nil, fmt.Errorf(
				"migration %q does not match NNN_name.(up|down).sql", entry.Name(),
			)
		}

		files = append(files, entry.Name())
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the whole embedded set. It must pass before the runner
// hands the filesystem to golang-migrate.
func (s *migrationSet) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrEmptyMigrationSet
	}

	parsed := make(map[string]*migrationFile, len(files))

	for _, file := range files {
		info, err := parseMigrationName(file)
		if err != nil {
			return err
		}

		parsed[file] = info
	}

	if err := s.validatePairing(parsed); err != nil {
		return err
	}

	if err := s.validateSequence(parsed); err != nil {
		return err
	}

	return s.validateChecksums(files)
}

func parseMigrationName(filename string) (*migrationFile, error) {
	matches := migrationNameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"migration %q does not match NNN_name.(up|down).sql", filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("migration %q: bad sequence number: %w", filename, err)
	}

	return &migrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
	}, nil
}

// validatePairing ensures every up migration has its down counterpart and
// vice versa. An unpaired file means a rollback (or an apply) would strand
// the schema.
func (s *migrationSet) validatePairing(parsed map[string]*migrationFile) error {
	directions := make(map[string]map[string]bool)

	for _, info := range parsed {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("migration %s has a down file but no up file", key)
		}

		if !seen["down"] {
			return fmt.Errorf("migration %s has an up file but no down file", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 and have no gaps.
func (s *migrationSet) validateSequence(parsed map[string]*migrationFile) error {
	seen := make(map[int]bool)

	for _, info := range parsed {
		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for sequence := range seen {
		sequences = append(sequences, sequence)
	}

	sort.Ints(sequences)

	for i, sequence := range sequences {
		if sequence != i+1 {
			return fmt.Errorf(
				"migration sequence has a hole: expected %03d, found %03d", i+1, sequence,
			)
		}
	}

	return nil
}

// validateChecksums compares file contents against the checksums captured on
// the first validation pass, then records the current ones.
func (s *migrationSet) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := fs.ReadFile(s.fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		sum := fmt.Sprintf("%x", sha256.Sum256(content))

		if recorded, ok := s.checksums[file]; ok && recorded != sum {
			return fmt.Errorf("migration %s changed since it was validated", file)
		}

		s.checksums[file] = sum
	}

	return nil
}
