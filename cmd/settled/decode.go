package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crosslend/internal/config"
	"crosslend/internal/transport"
	"crosslend/internal/wire"
)

type decodedMessage struct {
	Sequence  uint64      `json:"sequence"`
	Hash      string      `json:"hash"`
	PayloadID uint8       `json:"payload_id"`
	Kind      string      `json:"kind"`
	Message   interface{} `json:"message"`
}

type decodeError struct {
	Sequence uint64 `json:"sequence,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Error    string `json:"error"`
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Variant != "hub" && cfg.Variant != "peer" {
		return fmt.Errorf("variant must be hub or peer, got %q", cfg.Variant)
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := newJSONLWriter(cfg.Out)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := newJSONLWriter(cfg.Errors)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("variant", cfg.Variant),
	)

	scanner := bufio.NewScanner(inputFile)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	verifier := transport.EnvelopeVerifier{}
	var total, decoded, failed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		env, err := verifier.ParseAndVerify(line)
		if err != nil {
			failed++
			writeDecodeError(errWriter, decodeError{Error: err.Error()})
			continue
		}

		var (
			id  wire.PayloadID
			msg interface{}
		)
		if cfg.Variant == "hub" {
			hubMsg, err := wire.DecodeHub(env.Payload)
			if err != nil {
				failed++
				writeDecodeError(errWriter, decodeError{Sequence: env.Sequence, Hash: env.Hash.Hex(), Error: err.Error()})
				continue
			}
			id = hubMsg.PayloadID()
			msg = hubMsg
		} else {
			peerMsg, err := wire.DecodePeer(env.Payload)
			if err != nil {
				failed++
				writeDecodeError(errWriter, decodeError{Sequence: env.Sequence, Hash: env.Hash.Hex(), Error: err.Error()})
				continue
			}
			id = peerMsg.PayloadID()
			msg = peerMsg
		}

		record := decodedMessage{
			Sequence:  env.Sequence,
			Hash:      env.Hash.Hex(),
			PayloadID: uint8(id),
			Kind:      kindName(cfg.Variant, id),
			Message:   msg,
		}
		if err := outWriter.Write(record); err != nil {
			return err
		}
		decoded++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
	)

	return nil
}

func kindName(variant string, id wire.PayloadID) string {
	if variant == "peer" {
		switch id {
		case wire.PayloadPeerBorrow:
			return "borrow"
		case wire.PayloadPeerRevertBorrow:
			return "revert-borrow"
		case wire.PayloadPeerRepay:
			return "repay"
		}
		return "unknown"
	}
	switch id {
	case wire.PayloadDeposit:
		return "deposit"
	case wire.PayloadWithdraw:
		return "withdraw"
	case wire.PayloadBorrow:
		return "borrow"
	case wire.PayloadRepay:
		return "repay"
	case wire.PayloadLiquidation:
		return "liquidation"
	}
	return "unknown"
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func writeDecodeError(writer *jsonlWriter, record decodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(record)
}
