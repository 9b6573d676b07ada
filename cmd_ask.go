package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/americaniron/ironfreight/pkg/genai"
	"github.com/spf13/cobra"
)

var (
	askMode    string
	askLat     float64
	askLng     float64
	imageOut   string
	imageRatio string
	imageSize  string
	imageEdit  string
	imageVideo bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the parts and logistics assistant",
	Long: `Ask the assistant a question.

Modes: fast (default), deep, search, local, parts, chat.
chat reads one message per line from stdin until EOF.`,
	RunE: runAsk,
}

var imageCmd = &cobra.Command{
	Use:   "image <prompt>",
	Short: "Generate, edit or animate a product image",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImage,
}

func init() {
	askCmd.Flags().StringVar(&askMode, "mode", "fast", "fast, deep, search, local, parts or chat")
	askCmd.Flags().Float64Var(&askLat, "lat", 0, "latitude for local search")
	askCmd.Flags().Float64Var(&askLng, "lng", 0, "longitude for local search")

	imageCmd.Flags().StringVarP(&imageOut, "out", "o", "", "output file")
	imageCmd.Flags().StringVar(&imageRatio, "aspect", "1:1", "aspect ratio")
	imageCmd.Flags().StringVar(&imageSize, "size", "1K", "image size: 1K, 2K or 4K")
	imageCmd.Flags().StringVar(&imageEdit, "edit", "", "source image to edit instead of generating")
	imageCmd.Flags().BoolVar(&imageVideo, "animate", false, "animate the --edit source image into a video")
	_ = imageCmd.MarkFlagRequired("out")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	assistant, logger, err := initAssistant()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if askMode == "chat" {
		return runChat(ctx, cmd, assistant.NewChat())
	}

	question := strings.Join(args, " ")
	if question == "" {
		return errors.New("a question is required")
	}

	out := cmd.OutOrStdout()
	switch askMode {
	case "fast":
		fmt.Fprintln(out, assistant.FastAnswer(ctx, question))
	case "deep":
		fmt.Fprintln(out, assistant.DeepAnalysis(ctx, question))
	case "parts":
		fmt.Fprintln(out, assistant.RecommendParts(ctx, question))
	case "search":
		printGrounded(cmd, assistant.GroundedSearch(ctx, question))
	case "local":
		printGrounded(cmd, assistant.LocalServiceSearch(ctx, question, flagLocator(cmd)))
	default:
		return fmt.Errorf("unknown mode %q", askMode)
	}
	return nil
}

// flagLocator reports the --lat/--lng position, or fails when neither flag
// was given so the search runs without a location.
func flagLocator(cmd *cobra.Command) genai.Locator {
	return genai.LocatorFunc(func(ctx context.Context) (genai.LatLng, error) {
		if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lng") {
			return genai.LatLng{}, errors.New("no location given")
		}
		return genai.LatLng{Latitude: askLat, Longitude: askLng}, nil
	})
}

func runChat(ctx context.Context, cmd *cobra.Command, chat *genai.ChatSession) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, chat.Welcome())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(out, chat.SendMessage(ctx, line))
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func printGrounded(cmd *cobra.Command, g genai.Grounded) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, g.Text)
	for _, s := range g.Sources {
		fmt.Fprintf(out, "  - %s <%s>\n", s.Title, s.URI)
	}
}

func runImage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prompt := strings.Join(args, " ")

	assistant, logger, err := initAssistant()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var data []byte
	switch {
	case imageEdit == "" && imageVideo:
		return errors.New("--animate needs a source image in --edit")
	case imageEdit == "":
		img, err := assistant.GenerateImage(ctx, prompt, imageRatio, imageSize)
		if err != nil {
			return errors.New(genai.UserMessage(err))
		}
		data = img.Data
	default:
		src, err := readImage(imageEdit)
		if err != nil {
			return err
		}
		if imageVideo {
			video, err := assistant.AnimateImage(ctx, src, prompt, imageRatio)
			if err != nil {
				return errors.New(genai.UserMessage(err))
			}
			data = video.Data
		} else {
			img, err := assistant.EditImage(ctx, src, prompt)
			if err != nil {
				return errors.New(genai.UserMessage(err))
			}
			data = img.Data
		}
	}

	if err := os.WriteFile(imageOut, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", imageOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", imageOut, len(data))
	return nil
}

func readImage(path string) (genai.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return genai.Image{}, fmt.Errorf("reading %s: %w", path, err)
	}
	mime := "image/png"
	if strings.HasSuffix(strings.ToLower(path), ".jpg") || strings.HasSuffix(strings.ToLower(path), ".jpeg") {
		mime = "image/jpeg"
	}
	return genai.Image{MIMEType: mime, Data: data}, nil
}
