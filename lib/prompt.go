package lib

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"
)

func Prompt(prompt string, sensitive bool) (string, error) {
	return PromptWithOutput(prompt, sensitive, os.Stdout)
}

func PromptWithOutput(prompt string, sensitive bool, output *os.File) (string, error) {
	fmt.Fprintf(output, "%s: ", prompt)
	defer fmt.Fprintf(output, "\n")

	if sensitive {
		var input []byte
		input, err := terminal.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(input)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Choose prints a numbered list and keeps asking until the user picks an
// entry. The returned index is into labels.
func Choose(prompt string, labels []string) (int, error) {
	for i, label := range labels {
		fmt.Printf("%d) %s\n", i+1, label)
	}

	for {
		value, err := Prompt(prompt, false)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > len(labels) {
			fmt.Printf("Please enter a number between 1 and %d\n", len(labels))
			continue
		}
		return n - 1, nil
	}
}
