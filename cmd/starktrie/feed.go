package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/validator"
)

// readFeed decodes block updates from r and sends them on out in order, closing out when r is
// exhausted. r holds either one JSON array of updates or a stream of whitespace separated
// update objects, typically one per line.
func readFeed(ctx context.Context, r io.Reader, out chan<- *state.BlockUpdate) error {
	defer close(out)

	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	} else if err != nil {
		return err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err = dec.Token(); err != nil {
			return err
		}
	}

	for i := 0; ; i++ {
		if first == '[' && !dec.More() {
			_, err = dec.Token()
			return err
		}

		update := new(state.BlockUpdate)
		if err = dec.Decode(update); err != nil {
			if first != '[' && errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode update %d: %w", i, err)
		}
		if err = validator.Validator().Struct(update); err != nil {
			return fmt.Errorf("update %d for block %d: %w", i, update.BlockNumber, err)
		}

		select {
		case out <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		c, _, err := r.ReadRune()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(c) {
			return byte(c), r.UnreadRune()
		}
	}
}
