// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
)

const bashCompletion = `# bash completion for ragex
_ragex() {
	local cur="${COMP_WORDS[COMP_CWORD]}"
	local commands="init index query status serve config reset cache install-hook completion start"
	if [ "$COMP_CWORD" -eq 1 ]; then
		COMPREPLY=($(compgen -W "$commands" -- "$cur"))
	fi
}
complete -F _ragex ragex
`

const zshCompletion = `#compdef ragex
_arguments '1: :(init index query status serve config reset cache install-hook completion start)'
`

// runCompletion prints a shell completion script to stdout.
func runCompletion(args []string, _ string, _ GlobalFlags) {
	shell := "bash"
	if len(args) > 0 {
		shell = args[0]
	}
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unsupported shell: %s (supported: bash, zsh)\n", shell)
		os.Exit(1)
	}
}
