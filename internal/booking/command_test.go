package booking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandAttempter_BuildsFlagSurface(t *testing.T) {
	membership := true
	personalID := "A123456789"
	req := Request{
		FromStation:    2,
		ToStation:      7,
		Date:           "2026/09/15",
		AdultCount:     intPtr(2),
		DepartTime:     intPtr(10),
		PersonalID:     &personalID,
		UseMembership:  &membership,
		NoOCR:          true,
		NonInteractive: true,
	}

	// echo reflects the argument list, which is all this test needs.
	a := NewCommandAttempter("echo")
	out, err := a.Attempt(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, out, "--from 2")
	assert.Contains(t, out, "--to 7")
	assert.Contains(t, out, "--date 2026/09/15")
	assert.Contains(t, out, "--adult-cnt 2")
	assert.Contains(t, out, "--time 10")
	assert.Contains(t, out, "--personal-id A123456789")
	assert.Contains(t, out, "--use-membership true")
	assert.Contains(t, out, "--no-ocr")
	assert.NotContains(t, out, "--student-cnt", "absent optionals stay off the command line")
	assert.NotContains(t, out, "--train-index")
}

func TestCommandAttempter_MissingBinaryIsAnError(t *testing.T) {
	a := NewCommandAttempter("/no/such/binary")

	_, err := a.Attempt(context.Background(), Request{Date: "2026/09/15"})

	assert.Error(t, err)
}
