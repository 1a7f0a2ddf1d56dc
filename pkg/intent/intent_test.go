package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyImportError(t *testing.T) {
	d := Classify("", "ModuleNotFoundError: No module named 'requests'", "pytest -q", nil)
	assert.Equal(t, "dependency_or_import_fix", d.Intent)
	assert.Equal(t, "fix_imports", d.Subgoal)
}

func TestClassifySyntaxError(t *testing.T) {
	d := Classify("", "  File \"a.py\", line 3\nSyntaxError: invalid syntax", "pytest -q", nil)
	assert.Equal(t, "syntax_fix", d.Intent)
}

func TestClassifyAttributeError(t *testing.T) {
	d := Classify("AttributeError: 'NoneType' object has no attribute 'foo'", "", "pytest -q", nil)
	assert.Equal(t, "attribute_fix", d.Intent)
}

func TestClassifyTypeError(t *testing.T) {
	d := Classify("TypeError: unsupported operand type(s)", "", "pytest -q", nil)
	assert.Equal(t, "type_fix", d.Intent)
}

func TestClassifyBareAssertionIsLogicFix(t *testing.T) {
	d := Classify("AssertionError: assert 1 == 2", "", "pytest -q", nil)
	assert.Equal(t, "logic_fix", d.Intent)
}

func TestClassifyUnknownFailureIsGeneralFix(t *testing.T) {
	d := Classify("some unrecognized failure text", "", "pytest -q", nil)
	assert.Equal(t, "general_fix", d.Intent)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestClassifyEmptyOutputGathersEvidence(t *testing.T) {
	d := Classify("", "", "pytest -q", nil)
	assert.Equal(t, "gather_evidence", d.Intent)
}

func TestClassifyFocusesOnFirstFailingTestFile(t *testing.T) {
	d := Classify("TypeError: bad", "", "pytest -q", []string{"tests/test_a.py::test_one", "tests/test_b.py::test_two"})
	assert.Equal(t, "tests/test_a.py", d.FocusTestPath)
	assert.Equal(t, "pytest -q tests/test_a.py", d.FocusTestCmd)
}

func TestClassifyImportBeatsAssertionInPriority(t *testing.T) {
	d := Classify("ImportError: cannot import name 'x'\nAssertionError: assert False", "", "pytest -q", nil)
	assert.Equal(t, "dependency_or_import_fix", d.Intent)
}
