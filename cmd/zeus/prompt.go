/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// confirm asks a yes/no question; an empty answer means yes and end of
// input means no.
func (p *prompter) confirm(question string) bool {
	for {
		fmt.Fprintf(p.out, "%s [Y/n] ", question)
		if !p.in.Scan() {
			fmt.Fprintln(p.out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(p.in.Text())) {
		case "", "y", "ye", "yes":
			return true
		case "n", "no":
			return false
		}
		fmt.Fprintln(p.out, "Please respond with 'yes' or 'no' (or 'y' or 'n').")
	}
}
