package booking

import (
	"context"
	"os"
	"os/exec"
	"strconv"
)

// CommandAttempter invokes the purchase collaborator as a subprocess and
// captures everything it prints. The collaborator's internals are its own
// business; only the flag surface below and the output format matter here.
type CommandAttempter struct {
	bin string
}

func NewCommandAttempter(bin string) *CommandAttempter {
	return &CommandAttempter{bin: bin}
}

func (c *CommandAttempter) Attempt(ctx context.Context, req Request) (string, error) {
	args := []string{
		"--from", strconv.Itoa(req.FromStation),
		"--to", strconv.Itoa(req.ToStation),
		"--date", req.Date,
	}
	args = appendIntFlag(args, "--adult-cnt", req.AdultCount)
	args = appendIntFlag(args, "--student-cnt", req.StudentCount)
	args = appendIntFlag(args, "--time", req.DepartTime)
	args = appendIntFlag(args, "--train-index", req.TrainIndex)
	args = appendIntFlag(args, "--seat-prefer", req.SeatPrefer)
	args = appendIntFlag(args, "--class-type", req.ClassType)
	if req.PersonalID != nil {
		args = append(args, "--personal-id", *req.PersonalID)
	}
	if req.UseMembership != nil {
		args = append(args, "--use-membership", strconv.FormatBool(*req.UseMembership))
	}
	if req.NoOCR {
		args = append(args, "--no-ocr")
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = os.Environ()
	if req.NonInteractive {
		cmd.Env = append(cmd.Env, "THSR_NON_INTERACTIVE=1")
	}

	out, err := cmd.CombinedOutput()
	return string(out), err
}

func appendIntFlag(args []string, flag string, v *int) []string {
	if v == nil {
		return args
	}
	return append(args, flag, strconv.Itoa(*v))
}
