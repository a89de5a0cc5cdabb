package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/vdi"
)

func main() {
	app := cli.App{
		Name:  "vdi",
		Usage: "Create and inspect VDI disk images",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a new image",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "size",
						Usage:    "virtual disk size in bytes, with optional K/M/G/T suffix",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "static",
						Usage: "pre-allocate all blocks",
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "free-form text stored in the header",
					},
				},
				Action: createImage,
			},
			{
				Name:      "info",
				Usage:     "Print the header summary of an image",
				ArgsUsage: "FILE",
				Action:    showInfo,
			},
			{
				Name:      "check",
				Usage:     "Cross-check the block map against the header",
				ArgsUsage: "FILE",
				Action:    checkImage,
			},
			{
				Name:      "map",
				Usage:     "Export the block map as CSV",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "include unallocated entries",
					},
				},
				Action: exportMap,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// parseSize parses a byte count with an optional K/M/G/T binary suffix.
func parseSize(text string) (uint64, error) {
	multiplier := uint64(1)
	trimmed := strings.TrimSpace(text)

	switch {
	case strings.HasSuffix(trimmed, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(trimmed, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(trimmed, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(trimmed, "T"):
		multiplier = 1 << 40
	}
	if multiplier > 1 {
		trimmed = trimmed[:len(trimmed)-1]
	}

	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", text)
	}
	return value * multiplier, nil
}

func imageArgument(context *cli.Context) (string, error) {
	if context.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one image path argument")
	}
	return context.Args().First(), nil
}

func createImage(context *cli.Context) error {
	path, err := imageArgument(context)
	if err != nil {
		return err
	}

	size, err := parseSize(context.String("size"))
	if err != nil {
		return err
	}

	return vdi.Create(path, vdi.CreateOptions{
		Size:        size,
		Static:      context.Bool("static"),
		Description: context.String("description"),
	})
}

func showInfo(context *cli.Context) error {
	path, err := imageArgument(context)
	if err != nil {
		return err
	}

	driver, derr := vdi.Open(path, vdi.OpenOptions{ReadOnly: true})
	if derr != nil {
		return derr
	}
	defer driver.Close()

	stat := driver.Stat()
	imageType := "dynamic"
	if stat.ImageType == vdi.ImageTypeStatic {
		imageType = "static"
	}

	fmt.Printf("text:             %s", stat.Text)
	fmt.Printf("image type:       %s\n", imageType)
	fmt.Printf("disk size:        %d B (%d MiB)\n", stat.DiskSize, stat.DiskSize>>20)
	fmt.Printf("block size:       %d B\n", stat.BlockSize)
	fmt.Printf("blocks total:     %d\n", stat.BlocksInImage)
	fmt.Printf("blocks allocated: %d\n", stat.BlocksAllocated)
	fmt.Printf("image uuid:       %x\n", stat.UUIDImage)
	if stat.Description != "" {
		fmt.Printf("description:      %s\n", stat.Description)
	}
	return nil
}

func checkImage(context *cli.Context) error {
	path, err := imageArgument(context)
	if err != nil {
		return err
	}

	driver, derr := vdi.Open(path, vdi.OpenOptions{ReadOnly: true})
	if derr != nil {
		return derr
	}
	defer driver.Close()

	offenses, details := driver.Check()
	if offenses != 0 {
		return fmt.Errorf("%d offense(s) found:\n%s", offenses, details.Error())
	}

	fmt.Println("image is consistent")
	return nil
}

// blockMapRow is one CSV line of the map export.
type blockMapRow struct {
	Logical  uint32 `csv:"logical_block"`
	Physical string `csv:"physical_block"`
}

func exportMap(context *cli.Context) error {
	path, err := imageArgument(context)
	if err != nil {
		return err
	}

	driver, derr := vdi.Open(path, vdi.OpenOptions{ReadOnly: true})
	if derr != nil {
		return derr
	}
	defer driver.Close()

	includeAll := context.Bool("all")
	stat := driver.Stat()

	rows := []blockMapRow{}
	for block := uint32(0); block < stat.BlocksInImage; block++ {
		entry, derr := driver.MapEntry(block)
		if derr != nil {
			return derr
		}

		if entry == vdi.Unallocated {
			if includeAll {
				rows = append(rows, blockMapRow{Logical: block, Physical: "-"})
			}
			continue
		}
		rows = append(rows, blockMapRow{
			Logical:  block,
			Physical: strconv.FormatUint(uint64(entry), 10),
		})
	}

	return gocsv.Marshal(&rows, os.Stdout)
}
