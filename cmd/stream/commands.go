package stream

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/cmd/util"
	"github.com/ValentinKolb/sdsio/lib/sds"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"os"
	"time"
)

var (
	writeCmd = &cobra.Command{
		Use:   "write <name> [file]",
		Short: "Write a file (or stdin) to a stream",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			st, err := svc.OpenStream(args[0], common.ModeWrite)
			if err != nil {
				return err
			}

			n, err := copyToStream(st, in, viper.GetInt("chunk-size"))
			if cerr := st.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			Logger.Infof("wrote %d bytes to %s", n, args[0])
			return nil
		},
	}

	readCmd = &cobra.Command{
		Use:   "read <name> [file]",
		Short: "Read a stream into a file (or stdout) until its end",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := io.Writer(os.Stdout)
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			st, err := svc.OpenStream(args[0], common.ModeRead)
			if err != nil {
				return err
			}

			n, err := copyFromStream(out, st, viper.GetInt("chunk-size"), viper.GetDuration("idle"))
			if cerr := st.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			Logger.Infof("read %d bytes from %s", n, args[0])
			return nil
		},
	}
)

func init() {
	key := "chunk-size"
	StreamCommands.PersistentFlags().Int(key, 32*1024, util.WrapString("Size of a single write or read call (in bytes)"))

	key = "idle"
	readCmd.Flags().Duration(key, 0, util.WrapString("Give up if no data arrives for this long, 0 waits until the end of the stream"))
}

// copyToStream copies in to st, timed out writes are retried
func copyToStream(st *sds.Stream, in io.Reader, chunk int) (int64, error) {
	if chunk <= 0 {
		return 0, fmt.Errorf("chunk size must be positive")
	}

	buf := make([]byte, chunk)
	var total int64
	for {
		n, rerr := in.Read(buf)
		for off := 0; off < n; {
			w, err := st.Write(buf[off:n])
			off += w
			total += int64(w)
			if errors.Is(err, sds.ErrTimeout) {
				Logger.Warningf("%s: write timed out, retrying", st.Name())
				continue
			}
			if err != nil {
				return total, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// copyFromStream copies st to out until the end of the stream. Timed out
// reads are retried until no data arrived for idle (forever if 0).
func copyFromStream(out io.Writer, st *sds.Stream, chunk int, idle time.Duration) (int64, error) {
	if chunk <= 0 {
		return 0, fmt.Errorf("chunk size must be positive")
	}

	buf := make([]byte, chunk)
	var total int64
	lastData := time.Now()
	for {
		n, err := st.Read(buf)
		if n > 0 {
			lastData = time.Now()
			if _, werr := out.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return total, nil
		case errors.Is(err, sds.ErrTimeout):
			if idle > 0 && time.Since(lastData) >= idle {
				return total, fmt.Errorf("no data from %s for %s: %w", st.Name(), idle, err)
			}
		default:
			return total, err
		}
	}
}
