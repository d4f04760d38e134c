package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solanapay "github.com/coinbase/solanapay"
)

const (
	testRecipient = "mvines9iiHiQTysrwkJjGf2gb9Ex9jXJX8ns3qwf2kN"
	testReference = "82ZJ7nbGpixjeDCmEhUcmwXYfvurzAgGdtSMuHnUgyny"
	testUSDC      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRequestCmd(t *testing.T) {
	out, err := run(t, "request",
		"--recipient", testRecipient,
		"--amount", "1.5",
		"--reference", testReference,
		"--label", "Coffee Shop",
		"--memo", "order-42",
	)
	require.NoError(t, err)
	assert.Equal(t, "solana:"+testRecipient+"?amount=1.5&reference="+testReference+"&label=Coffee%20Shop&memo=order-42\n", out)
}

func TestRequestCmd_TokenSymbolAndNewReference(t *testing.T) {
	out, err := run(t, "request", "--recipient", testRecipient, "--spl-token", "usdc", "--amount", "0.01", "--new-reference")
	require.NoError(t, err)

	req, err := solanapay.ParseTransferRequestURL(strings.TrimSpace(out))
	require.NoError(t, err)
	require.NotNil(t, req.SPLToken)
	assert.Equal(t, testUSDC, req.SPLToken.String())
	assert.Len(t, req.References, 1)
}

func TestRequestCmd_FromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merchant:\n  recipient: "+testRecipient+"\n  label: Bakery\n"), 0o600))

	out, err := run(t, "--config", path, "request", "--amount", "2")
	require.NoError(t, err)
	assert.Equal(t, "solana:"+testRecipient+"?amount=2&label=Bakery\n", out)
}

func TestRequestCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad recipient", []string{"--recipient", "nope"}},
		{"bad amount", []string{"--recipient", testRecipient, "--amount", "abc"}},
		{"too many decimals", []string{"--recipient", testRecipient, "--spl-token", testUSDC, "--amount", "0.0000001"}},
		{"negative amount", []string{"--recipient", testRecipient, "--amount", "-1"}},
		{"bad reference", []string{"--recipient", testRecipient, "--reference", "xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"request"}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestParseCmd(t *testing.T) {
	url := "solana:" + testRecipient + "?amount=0.5&spl-token=" + testUSDC + "&reference=" + testReference + "&message=Thanks%21"
	out, err := run(t, "request", "parse", url)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, testRecipient, decoded["recipient"])
	assert.Equal(t, "0.5", decoded["amount"])
	assert.Equal(t, testUSDC, decoded["splToken"])
	assert.Equal(t, []interface{}{testReference}, decoded["references"])
	assert.Equal(t, "Thanks!", decoded["message"])

	_, err = run(t, "request", "parse", "https://example.com")
	assert.Error(t, err)
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	hook := printRecords(&out)
	require.NoError(t, hook(solanapay.RecordsPublishedContext{
		Added: []solanapay.TransferRecord{{Signature: "a", Amount: "1"}, {Signature: "b", Amount: "2"}},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"signature":"a"`)
	assert.Contains(t, lines[1], `"amount":"2"`)
}
