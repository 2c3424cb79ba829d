package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
	"github.com/dunamismax/solarprep/internal/prep"
)

func (c *CLI) maskCornersCommand() *cobra.Command {
	size := prep.DefaultCornerSize

	cmd := &cobra.Command{
		Use:   "mask-corners <input> <output>",
		Short: "Black out the four corners of every JPEG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			summary, err := prep.MaskCornersDir(cmd.Context(), logger, args[0], args[1], size)
			if err != nil {
				return err
			}
			prog.report("mask-corners", summary)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", size, "edge of each corner square in pixels")
	return cmd
}

func (c *CLI) blowoutCommand() *cobra.Command {
	var (
		opts     = prep.DefaultBlowoutOptions()
		listPath string
	)
	threshold := int(opts.Threshold)

	cmd := &cobra.Command{
		Use:   "blowout <folder>",
		Short: "List the frames that are not overexposed",
		Long: `Write the names of the PNG and JPEG frames in <folder> that are not blown
out, one per line. Files that cannot be read are listed too and reported as
failures.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold < 0 || threshold > 255 {
				return fmt.Errorf("%w: threshold %d is outside 0-255", domain.ErrInvalidConfig, threshold)
			}
			opts.Threshold = uint8(threshold)

			logger := loggerFromContext(cmd.Context())
			report, err := prep.ScanBlowout(cmd.Context(), logger, args[0], opts)
			if err != nil {
				return err
			}

			path := listPath
			if path == "" {
				path = filepath.Join(args[0], "not_blown_out_images.txt")
			}
			if err := prep.WriteList(path, report.Kept); err != nil {
				return err
			}
			logger.Info("wrote list", "path", path, "entries", len(report.Kept))
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", threshold, "channel value a pixel must exceed on R, G and B to count as white")
	cmd.Flags().Float64Var(&opts.Percentage, "percentage", opts.Percentage, "percent of white pixels above which a frame is blown out")
	cmd.Flags().StringVarP(&listPath, "output", "o", "", "list file (default <folder>/not_blown_out_images.txt)")
	return cmd
}

func (c *CLI) cropCommand() *cobra.Command {
	width, height := prep.DefaultCropWidth, prep.DefaultCropHeight

	cmd := &cobra.Command{
		Use:   "crop <input> <output>",
		Short: "Center-crop every frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			summary, err := prep.CropCenterDir(cmd.Context(), logger, args[0], args[1], width, height)
			if err != nil {
				return err
			}
			prog.report("crop", summary)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", width, "crop width in pixels")
	cmd.Flags().IntVar(&height, "height", height, "crop height in pixels")
	return cmd
}

func (c *CLI) grayToRGBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gray2rgb <input> <output>",
		Short: "Rewrite grayscale JPEGs with three channels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			summary, err := prep.GrayToRGBDir(cmd.Context(), logger, args[0], args[1])
			if err != nil {
				return err
			}
			prog.report("gray2rgb", summary)
			return nil
		},
	}
}

func (c *CLI) pairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <folder-a> <folder-b> <output>",
		Short: "Place matching frames of two folders side by side",
		Long: `Pair the sorted frames of <folder-a> and <folder-b> one to one and write
each pair as paired_<stem of a>.jpg. Both folders must hold the same number
of frames.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			summary, err := prep.PairDir(cmd.Context(), logger, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			prog.report("pair", summary)
			return nil
		},
	}
}

func (c *CLI) pngToJPEGCommand() *cobra.Command {
	quality := prep.Quality

	cmd := &cobra.Command{
		Use:   "png2jpg <input> <output>",
		Short: "Convert PNG frames to JPEG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			summary, err := prep.PNGToJPEGDir(cmd.Context(), logger, args[0], args[1], quality)
			if err != nil {
				return err
			}
			prog.report("png2jpg", summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&quality, "quality", "q", quality, "JPEG quality (1-100)")
	return cmd
}

func (c *CLI) ffmpegListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ffmpeg-list <names.txt> [output]",
		Short: "Turn a list of file names into an ffmpeg concat list",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := imagefs.Stem(args[0]) + "-ffmpeg.txt"
			out = filepath.Join(filepath.Dir(args[0]), out)
			if len(args) == 2 {
				out = args[1]
			}
			n, err := prep.FFmpegListFile(args[0], out)
			if err != nil {
				return err
			}
			loggerFromContext(cmd.Context()).Info("wrote ffmpeg list", "path", out, "entries", n)
			return nil
		},
	}
}
