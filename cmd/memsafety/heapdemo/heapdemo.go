// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heapdemo implements the heapdemo subcommand: it runs a short scenario on the tagged allocator and shows
// how out-of-bounds accesses, use-after-free and forged pointers are caught.
package heapdemo

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/tools"
	"github.com/awslabs/ar-go-memsafety/internal/formatutil"
	"github.com/awslabs/ar-go-memsafety/runtime/tagalloc"
	"github.com/awslabs/ar-go-memsafety/runtime/tagging"
)

// Usage is the usage message of the heapdemo subcommand
const Usage = `Run a scenario on the tagged heap allocator. With -verbose, every tagging event is traced.
Usage:
  memsafety heapdemo [options]`

// Flags are the flags of the heapdemo subcommand
type Flags struct {
	tools.CommonFlags
	Secret string
}

// NewFlags parses the flags of the heapdemo subcommand
func NewFlags(args []string) (Flags, error) {
	unparsed := tools.NewUnparsedCommonFlags("heapdemo")
	secret := unparsed.FlagSet.String("secret", "memsafety", "key of the pointer signatures")
	common, err := unparsed.Parse(args, Usage)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, Secret: *secret}, nil
}

// Run runs the heapdemo subcommand
func Run(flags Flags) error {
	cfg, logger, err := tools.LoadConfig(flags.CommonFlags)
	if err != nil {
		return err
	}
	if flags.Verbose {
		logger = config.NewLogGroupWriter(config.TraceLevel, os.Stderr)
	}
	return Demo(os.Stdout, cfg.Runtime, logger, []byte(flags.Secret))
}

// Demo runs the scenario with a fresh allocator and writes what happens to w
func Demo(w io.Writer, opts config.RuntimeOptions, logger *config.LogGroup, secret []byte) error {
	a, err := tagalloc.New(opts, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	signer, err := tagging.NewSigner(secret)
	if err != nil {
		return err
	}

	step := func(format string, args ...any) { fmt.Fprintf(w, "%s\n", fmt.Sprintf(format, args...)) }
	caught := func(what string, err error) {
		fmt.Fprintf(w, "%s %s: %v\n", formatutil.Green("caught"), what, err)
	}

	p := a.Malloc(24)
	if p == 0 {
		return fmt.Errorf("allocation failed")
	}
	step("malloc(24) = %#x (tag %d)", p, tagging.Tag(p))
	if err := a.Store(p, []byte("hello, tagged heap")); err != nil {
		return err
	}
	if err := a.Store(p+tagging.Granule*2, []byte{1}); err != nil {
		caught("out-of-bounds write", err)
	} else {
		return fmt.Errorf("out-of-bounds write was not detected")
	}

	q := a.Realloc(p, 100)
	if q == 0 {
		return fmt.Errorf("reallocation failed")
	}
	b, err := a.Load(q, 5)
	if err != nil {
		return err
	}
	step("realloc(%#x, 100) = %#x, data %q", p, q, b)
	if _, err := a.Load(p, 1); err != nil {
		caught("use after free", err)
	} else if p != q {
		return fmt.Errorf("use after free was not detected")
	}

	signed := signer.Sign(q, tagging.KeyData)
	step("signed %#x = %#x", q, signed)
	if _, err := signer.Auth(signed^(1<<tagging.SignatureShift), tagging.KeyData); errors.Is(err, tagging.ErrAuthFailed) {
		caught("forged pointer", err)
	} else {
		return fmt.Errorf("forged pointer was not detected")
	}
	auth, err := signer.Auth(signed, tagging.KeyData)
	if err != nil {
		return err
	}
	if err := a.Free(auth); err != nil {
		return err
	}
	if err := a.Free(auth); err != nil {
		caught("double free", err)
	} else {
		return fmt.Errorf("double free was not detected")
	}
	step("%d live allocations", a.Live())
	return nil
}
