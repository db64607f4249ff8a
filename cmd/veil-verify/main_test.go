package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgs(t *testing.T) {
	opts := parseArgs([]string{"proof.zkip", "--vk", "/etc/veil/intent.vk", "-v", "--time-dev"})
	assert.Equal(t, Options{FilePath: "proof.zkip", VKPath: "/etc/veil/intent.vk", Verbose: true, TimeDev: true}, opts)

	opts = parseArgs([]string{"--unknown", "p.zkip"})
	assert.Equal(t, "p.zkip", opts.FilePath)
	assert.Equal(t, "keys/intent.vk", opts.VKPath)
}
