package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Filter file grammar: rule blocks are delimited by
// SCOREP_FILE_NAMES_BEGIN..SCOREP_FILE_NAMES_END and
// SCOREP_REGION_NAMES_BEGIN..SCOREP_REGION_NAMES_END. Inside a block,
// EXCLUDE and INCLUDE switch the rule polarity for the following
// patterns; MANGLED and DEMANGLED toggle whether region patterns
// apply to the mangled name. '#' starts a comment unless escaped;
// whitespace separates tokens unless escaped; escaping line breaks is
// not supported.

const (
	parseStart = iota
	parseFiles
	parseFilesExclude
	parseFilesInclude
	parseRegions
	parseRegionsExclude
	parseRegionsInclude
)

type parseState struct {
	mode    int
	mangled bool
}

func (f *Filter) processToken(state *parseState, token string) error {
	if token == "" {
		return nil
	}

	switch token {
	case "SCOREP_FILE_NAMES_BEGIN":
		if state.mode != parseStart {
			return fmt.Errorf("unexpected token 'SCOREP_FILE_NAMES_BEGIN'")
		}
		state.mode = parseFiles

	case "SCOREP_FILE_NAMES_END":
		if state.mode < parseFiles || state.mode > parseFilesInclude {
			return fmt.Errorf("unexpected token 'SCOREP_FILE_NAMES_END'")
		}
		state.mode = parseStart
		state.mangled = false

	case "SCOREP_REGION_NAMES_BEGIN":
		if state.mode != parseStart {
			return fmt.Errorf("unexpected token 'SCOREP_REGION_NAMES_BEGIN'")
		}
		state.mode = parseRegions

	case "SCOREP_REGION_NAMES_END":
		if state.mode < parseRegions || state.mode > parseRegionsInclude {
			return fmt.Errorf("unexpected token 'SCOREP_REGION_NAMES_END'")
		}
		state.mode = parseStart
		state.mangled = false

	case "EXCLUDE":
		switch state.mode {
		case parseFiles, parseFilesExclude, parseFilesInclude:
			state.mode = parseFilesExclude
		case parseRegions, parseRegionsExclude, parseRegionsInclude:
			state.mode = parseRegionsExclude
			state.mangled = false
		default:
			return fmt.Errorf("unexpected token 'EXCLUDE'")
		}

	case "INCLUDE":
		switch state.mode {
		case parseFiles, parseFilesExclude, parseFilesInclude:
			state.mode = parseFilesInclude
		case parseRegions, parseRegionsExclude, parseRegionsInclude:
			state.mode = parseRegionsInclude
			state.mangled = false
		default:
			return fmt.Errorf("unexpected token 'INCLUDE'")
		}

	case "MANGLED":
		switch state.mode {
		case parseRegionsExclude, parseRegionsInclude:
			state.mangled = true
		default:
			return fmt.Errorf("unexpected token 'MANGLED'")
		}

	case "DEMANGLED":
		switch state.mode {
		case parseRegionsExclude, parseRegionsInclude:
			state.mangled = false
		default:
			return fmt.Errorf("unexpected token 'DEMANGLED'")
		}

	default:
		switch state.mode {
		case parseFilesExclude:
			f.AddFileRule(token, true)
		case parseFilesInclude:
			f.AddFileRule(token, false)
		case parseRegionsExclude:
			f.AddFunctionRule(token, true, state.mangled)
		case parseRegionsInclude:
			f.AddFunctionRule(token, false, state.mangled)
		default:
			return fmt.Errorf("unexpected token '%s'", token)
		}
	}
	return nil
}

// stripComment truncates line at the first '#' not escaped by a
// backslash.
func stripComment(line string) string {
	for pos := 0; pos < len(line); pos++ {
		if line[pos] == '#' && (pos == 0 || line[pos-1] != '\\') {
			return line[:pos]
		}
	}
	return line
}

// splitTokens cuts line at every whitespace not escaped by a
// backslash. Escape characters stay in the token; the glob compiler
// interprets them.
func splitTokens(line string) []string {
	var tokens []string
	start := 0
	for pos := 0; pos < len(line); pos++ {
		c := line[pos]
		if (c == ' ' || c == '\t') && (pos == 0 || line[pos-1] != '\\') {
			tokens = append(tokens, line[start:pos])
			start = pos + 1
		}
	}
	tokens = append(tokens, line[start:])
	return tokens
}

// Parse reads filter rules from r.
func (f *Filter) Parse(r io.Reader) error {
	state := parseState{mode: parseStart}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		if strings.HasSuffix(line, "\\") {
			return fmt.Errorf("escaping line breaks is not supported")
		}
		for _, token := range splitTokens(line) {
			if err := f.processToken(&state, token); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// ParseFile reads filter rules from the file at path.
func (f *Filter) ParseFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open filter specification file '%s': %w", path, err)
	}
	defer file.Close()
	return f.Parse(file)
}
