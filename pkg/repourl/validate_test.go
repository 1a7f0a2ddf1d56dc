package repourl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

func TestValidateAccepts(t *testing.T) {
	cases := []string{
		"https://github.com/psf/requests",
		"https://github.com/psf/requests.git",
		"https://github.com/a-b_c/d.e-f",
	}
	for _, u := range cases {
		assert.NoError(t, Validate(u), u)
	}
}

func TestValidateRejectsNonGithub(t *testing.T) {
	err := Validate("https://gitlab.com/psf/requests")
	assert.True(t, rerr.Is(err, rerr.CodeURLInvalid))
}

func TestValidateRejectsBlockedPaths(t *testing.T) {
	for _, u := range []string{
		"https://github.com/psf/requests/blob/main/README.md",
		"https://github.com/psf/requests/tree/main",
		"https://github.com/psf/requests/commit/abc123",
	} {
		err := Validate(u)
		assert.True(t, rerr.Is(err, rerr.CodeURLInvalid), u)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	assert.Error(t, Validate("   "))
}

func TestValidateRejectsShellMetacharacters(t *testing.T) {
	err := Validate("https://github.com/psf/requests; rm -rf /")
	assert.Error(t, err)
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "psf/requests", RepoName("https://github.com/psf/requests.git"))
	assert.Equal(t, "psf/requests", RepoName("https://github.com/psf/requests"))
}
