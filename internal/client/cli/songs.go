package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/validation"
)

// songFlags поля песни, общие для add и edit
type songFlags struct {
	title       string
	artist      string
	key         string
	tags        string
	instruments string
	tempo       int
}

func (c *Cli) songFlagSet(name string, f *songFlags) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(c.io)
	flags.StringVar(&f.title, "title", "", "song title")
	flags.StringVar(&f.artist, "artist", "", "artist")
	flags.StringVar(&f.key, "key", "", "key, for example G or F#m")
	flags.IntVar(&f.tempo, "tempo", 0, "tempo in BPM")
	flags.StringVar(&f.tags, "tags", "", "comma separated tags")
	flags.StringVar(&f.instruments, "instruments", "", "comma separated instruments")
	return flags
}

func (c *Cli) runAdd(ctx context.Context, args []string) error {
	var f songFlags
	if err := c.songFlagSet("add", &f).Parse(args); err != nil {
		return err
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	c.io.Println("=== Add Song ===")
	c.io.Println()

	if strings.TrimSpace(f.title) == "" {
		title, err := c.io.ReadInput("Title: ")
		if err != nil {
			return fmt.Errorf("failed to read title: %w", err)
		}
		f.title = title
	}
	if err := validation.ValidateKey(f.key); err != nil {
		return err
	}
	if err := validation.ValidateTempo(f.tempo); err != nil {
		return err
	}

	song := &models.Song{
		OwnerID:     p.OwnerID,
		Title:       strings.TrimSpace(f.title),
		Artist:      strings.TrimSpace(f.artist),
		Key:         f.key,
		Tempo:       f.tempo,
		Tags:        splitList(f.tags),
		Instruments: splitList(f.instruments),
	}
	if err := c.library(p).AddSong(ctx, song); err != nil {
		return fmt.Errorf("failed to add song: %w", err)
	}

	c.io.Println("✓ Song added!")
	c.io.Printf("ID: %s\n", song.ID)
	c.io.Println()
	c.io.Printf("Run 'chordkeeper arrange %s <file>' to attach the chord chart.\n", song.ID)

	return nil
}

func (c *Cli) runEdit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chordkeeper edit <id> [flags]")
	}
	id := args[0]

	var f songFlags
	flags := c.songFlagSet("edit", &f)
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}
	lib := c.library(p)

	song, err := lib.GetSong(ctx, id)
	if err != nil {
		return err
	}

	changed := 0
	var invalid error
	// меняем только явно переданные поля
	flags.Visit(func(fl *flag.Flag) {
		changed++
		switch fl.Name {
		case "title":
			song.Title = strings.TrimSpace(f.title)
		case "artist":
			song.Artist = strings.TrimSpace(f.artist)
		case "key":
			invalid = errors.Join(invalid, validation.ValidateKey(f.key))
			song.Key = f.key
		case "tempo":
			invalid = errors.Join(invalid, validation.ValidateTempo(f.tempo))
			song.Tempo = f.tempo
		case "tags":
			song.Tags = splitList(f.tags)
		case "instruments":
			song.Instruments = splitList(f.instruments)
		}
	})
	if invalid != nil {
		return invalid
	}
	if changed == 0 {
		c.io.Println("Nothing to change.")
		return nil
	}

	if err := lib.UpdateSong(ctx, song); err != nil {
		return fmt.Errorf("failed to update song: %w", err)
	}

	c.io.Println("✓ Song updated!")
	return nil
}

func (c *Cli) runList(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	flags.SetOutput(c.io)
	tag := flags.String("tag", "", "show only songs with this tag")
	if err := flags.Parse(args); err != nil {
		return err
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	songs, err := c.library(p).ListSongs(ctx, p.OwnerID, *tag)
	if err != nil {
		return err
	}

	c.io.Println("=== Songs ===")
	c.io.Println()

	if len(songs) == 0 {
		c.io.Println("No songs found.")
		return nil
	}

	for _, s := range songs {
		line := fmt.Sprintf("%s  %s", s.ID, s.Title)
		if s.Artist != "" {
			line += " - " + s.Artist
		}
		if s.Key != "" {
			line += fmt.Sprintf(" [%s]", s.Key)
		}
		c.io.Println(line)
	}
	c.io.Println()
	c.io.Printf("Total: %s\n", plural(len(songs), "song"))

	return nil
}

func (c *Cli) runGet(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chordkeeper get <id>")
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}
	lib := c.library(p)

	song, err := lib.GetSong(ctx, args[0])
	if err != nil {
		return err
	}

	c.io.Printf("=== %s ===\n", song.Title)
	c.io.Println()
	c.io.Printf("ID: %s\n", song.ID)
	printField(c, "Artist", song.Artist)
	printField(c, "Key", song.Key)
	if song.Tempo > 0 {
		c.io.Printf("Tempo: %d BPM\n", song.Tempo)
	}
	printField(c, "Tags", strings.Join(song.Tags, ", "))
	printField(c, "Instruments", strings.Join(song.Instruments, ", "))
	c.io.Printf("Updated: %s\n", song.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	c.io.Println()

	arrangement, err := lib.GetArrangement(ctx, song.ID)
	switch {
	case errors.Is(err, storage.ErrArrangementNotFound):
		c.io.Println("(no chord chart yet)")
	case err != nil:
		return err
	default:
		c.io.Println(arrangement.Content)
	}

	return nil
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chordkeeper delete <id>")
	}

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	if err := c.library(p).DeleteSong(ctx, args[0]); err != nil {
		return err
	}

	c.io.Println("✓ Song deleted!")
	return nil
}

func (c *Cli) runArrange(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: chordkeeper arrange <id> <file>")
	}
	id, path := args[0], args[1]

	p, err := c.profile(ctx)
	if err != nil {
		return err
	}

	var content []byte
	if path == "-" {
		content, err = io.ReadAll(c.stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read chord chart: %w", err)
	}

	if err := c.library(p).SetArrangement(ctx, id, string(content)); err != nil {
		return err
	}

	c.io.Println("✓ Chord chart saved!")
	c.io.Printf("Size: %d bytes\n", len(content))
	return nil
}

func printField(c *Cli, name, value string) {
	if value != "" {
		c.io.Printf("%s: %s\n", name, value)
	}
}

// splitList разбирает список через запятую, пустые элементы отбрасываются
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
