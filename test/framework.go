package test

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestCase represents a single end-to-end run of the box binary
type TestCase struct {
	Name     string   // Test name
	Script   string   // .box script content
	Command  string   // Subcommand, run when empty
	Args     []string // Flags placed before the script path
	ExitCode int      // Expected exit code
	Stdout   string   // Expected stdout content
	Stderr   string   // Expected stderr content
}

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// Binary builds ./cmd/box once per test process
func Binary(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			buildErr = err
			return
		}

		projectRoot := wd
		for {
			if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
				break
			}
			parent := filepath.Dir(projectRoot)
			if parent == projectRoot {
				buildErr = fmt.Errorf("could not locate project root from %s", wd)
				return
			}
			projectRoot = parent
		}

		buildPath = filepath.Join(projectRoot, "box")
		buildCmd := exec.Command("go", "build", "-o", buildPath, "./cmd/box")
		buildCmd.Dir = projectRoot
		if output, err := buildCmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("%v\nOutput: %s", err, output)
		}
	})

	if buildErr != nil {
		t.Fatalf("Failed to build box binary: %v", buildErr)
	}
	return buildPath
}

// RunBoxTest writes the script to a temporary file, runs it through the box
// binary and validates the results
func RunBoxTest(t *testing.T, testCase TestCase) {
	t.Helper()

	tmpDir := t.TempDir()
	scriptPath := filepath.Join(tmpDir, "test.box")

	err := os.WriteFile(scriptPath, []byte(testCase.Script), 0644)
	if err != nil {
		t.Fatalf("Failed to write test script: %v", err)
	}

	command := testCase.Command
	if command == "" {
		command = "run"
	}
	cmdArgs := []string{command}
	cmdArgs = append(cmdArgs, testCase.Args...)
	cmdArgs = append(cmdArgs, scriptPath)

	cmd := exec.Command(Binary(t), cmdArgs...)
	cmd.Dir = tmpDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			t.Fatalf("Failed to execute box: %v", err)
		}
	}

	if exitCode != testCase.ExitCode {
		t.Errorf("Expected exit code %d, got %d\nStderr:\n%s", testCase.ExitCode, exitCode, stderr.String())
	}

	if testCase.Stdout != "" {
		actualStdout := strings.TrimSpace(stdout.String())
		expectedStdout := strings.TrimSpace(testCase.Stdout)
		if actualStdout != expectedStdout {
			t.Errorf("Stdout mismatch:\nExpected:\n%s\n\nActual:\n%s", expectedStdout, actualStdout)
		}
	}

	if testCase.Stderr != "" {
		actualStderr := strings.TrimSpace(stderr.String())
		expectedStderr := strings.TrimSpace(testCase.Stderr)
		if !strings.Contains(actualStderr, expectedStderr) {
			t.Errorf("Stderr mismatch:\nExpected to contain:\n%s\n\nActual:\n%s", expectedStderr, actualStderr)
		}
	}

	if testing.Verbose() {
		fmt.Printf("=== Test: %s ===\n", testCase.Name)
		fmt.Printf("Exit Code: %d\n", exitCode)
		fmt.Printf("Stdout:\n%s\n", stdout.String())
		fmt.Printf("Stderr:\n%s\n", stderr.String())
		fmt.Println("=================")
	}
}

// LoadTestDataFile loads a test file from testdata directory
func LoadTestDataFile(filename string) (string, error) {
	content, err := os.ReadFile(filepath.Join("testdata", filename))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// ParseTestCase parses a test case from a structured comment format.
// Expectation sections are comment lines; every other line is the script.
func ParseTestCase(content string) *TestCase {
	lines := strings.Split(content, "\n")
	testCase := &TestCase{}

	var scriptLines []string
	var mode string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "# TEST:") {
			testCase.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "# TEST:"))
		} else if strings.HasPrefix(trimmed, "# EXPECT_EXIT:") {
			fmt.Sscanf(trimmed, "# EXPECT_EXIT: %d", &testCase.ExitCode)
		} else if strings.HasPrefix(trimmed, "# EXPECT_STDOUT:") {
			mode = "stdout"
		} else if strings.HasPrefix(trimmed, "# EXPECT_STDERR:") {
			mode = "stderr"
		} else if strings.HasPrefix(trimmed, "# ARGS:") {
			argsStr := strings.TrimSpace(strings.TrimPrefix(trimmed, "# ARGS:"))
			if argsStr != "" {
				testCase.Args = strings.Fields(argsStr)
			}
		} else if strings.HasPrefix(trimmed, "# END_") {
			mode = ""
		} else if strings.HasPrefix(trimmed, "#") && mode != "" {
			content := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			switch mode {
			case "stdout":
				if testCase.Stdout != "" {
					testCase.Stdout += "\n"
				}
				testCase.Stdout += content
			case "stderr":
				if testCase.Stderr != "" {
					testCase.Stderr += "\n"
				}
				testCase.Stderr += content
			}
		} else {
			scriptLines = append(scriptLines, line)
		}
	}

	testCase.Script = strings.Join(scriptLines, "\n")
	return testCase
}
