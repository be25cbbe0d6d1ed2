package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/bladeloader/pkg/config"
	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/transport"
)

type PortsCommand struct {
	NoProbe bool `long:"no-probe" description:"Only list ports, do not talk to them"`
}

func (c *PortsCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	for _, port := range ports {
		if c.NoProbe {
			fmt.Println(port)
			continue
		}
		p, err := probe(cfg, port)
		if err != nil {
			fmt.Printf("%s  %s\n", port, dimStyle.Render(err.Error()))
			continue
		}
		fmt.Printf("%s  %s\n", port, successStyle.Render("arm at "+p.String()))
	}
	return nil
}

// probe asks the device on port for its position.
func probe(cfg *config.Config, port string) (motion.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Serial.ConnectDelay+5*time.Second)
	defer cancel()

	scfg := cfg.Transport()
	scfg.Port = port
	scfg.ResponseTimeout = 2 * time.Second
	s, err := transport.OpenSerial(ctx, scfg, nil)
	if err != nil {
		return motion.Position{}, err
	}
	defer s.Close()

	resp, err := s.Send(ctx, gcode.QueryPosition{}.Encode())
	if err != nil {
		return motion.Position{}, err
	}
	x, y, z, err := gcode.ParsePosition(resp)
	if err != nil {
		return motion.Position{}, err
	}
	return motion.Position{X: x, Y: y, Z: z}, nil
}

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("bladeloader setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Scanning for arms...")
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	var options []huh.Option[string]
	for _, port := range ports {
		label := port
		if p, err := probe(cfg, port); err == nil {
			label = fmt.Sprintf("%s (arm at %s)", port, p)
		}
		options = append(options, huh.NewOption(label, port))
	}
	if len(options) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println("Make sure the arm is connected and powered on.")
		os.Exit(1)
	}

	port := cfg.Serial.Port
	safeZ := strconv.FormatFloat(cfg.Motion.SafeZ, 'f', -1, 64)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the arm on?").
				Options(options...).
				Value(&port),
			huh.NewInput().
				Title("Safe Z (mm)").
				Description("Height above which horizontal travel cannot hit anything").
				Value(&safeZ).
				Validate(func(s string) error {
					z, err := strconv.ParseFloat(s, 64)
					if err != nil {
						return err
					}
					if z < cfg.Workspace.ZMin || z > cfg.Workspace.ZMax {
						return fmt.Errorf("must be within %.0f..%.0f", cfg.Workspace.ZMin, cfg.Workspace.ZMax)
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	cfg.Serial.Port = port
	cfg.Motion.SafeZ, _ = strconv.ParseFloat(safeZ, 64)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Record the pick and hook positions with: " + headerStyle.Render("bladeloader teach"))
	return nil
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}
