package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
)

// withSession runs fn on an open session and cancels on interrupt.
func withSession(fn func(ctx context.Context, s *session) error) error {
	return runSession(sessionOptions{}, fn)
}

func runSession(so sessionOptions, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s, err := openSession(ctx, so)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Simulate {
		// A fresh simulator is never homed.
		if err := s.ctrl.Home(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, s)
}

type HomeCommand struct{}

func (c *HomeCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		if err := s.ctrl.Home(ctx); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Homed at " + motion.Home.String()))
		return nil
	})
}

type MoveCommand struct {
	Direct bool `long:"direct" description:"Straight line instead of lift, travel, lower"`
	Args   struct {
		X float64 `positional-arg-name:"x"`
		Y float64 `positional-arg-name:"y"`
		Z float64 `positional-arg-name:"z"`
	} `positional-args:"yes" required:"yes"`
}

func (c *MoveCommand) Execute(args []string) error {
	target := motion.Position{X: c.Args.X, Y: c.Args.Y, Z: c.Args.Z}
	return withSession(func(ctx context.Context, s *session) error {
		if err := syncIfHomed(ctx, s); err != nil {
			return err
		}
		move := s.ctrl.MoveTo
		if c.Direct {
			move = s.ctrl.DirectMoveTo
		}
		if err := move(ctx, target); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("At " + target.String()))
		return nil
	})
}

type JogCommand struct {
	Args struct {
		Axis  string  `positional-arg-name:"axis" description:"x, y or z"`
		Delta float64 `positional-arg-name:"mm"`
	} `positional-args:"yes" required:"yes"`
}

func (c *JogCommand) Execute(args []string) error {
	if len(c.Args.Axis) != 1 || !strings.Contains("xyzXYZ", c.Args.Axis) {
		return fmt.Errorf("unknown axis %q", c.Args.Axis)
	}
	return withSession(func(ctx context.Context, s *session) error {
		if err := syncIfHomed(ctx, s); err != nil {
			return err
		}
		if err := s.ctrl.Jog(ctx, c.Args.Axis[0], c.Args.Delta); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("At " + s.ctrl.Status().Arm.Position.String()))
		return nil
	})
}

// syncIfHomed homes a new connection. The encoder position is adopted first
// so homing can lift to safe Z before it travels.
func syncIfHomed(ctx context.Context, s *session) error {
	if s.ctrl.Status().Arm.Homed {
		return nil
	}
	if _, err := s.ctrl.SyncFromSensor(ctx); err != nil {
		return err
	}
	return s.ctrl.Home(ctx)
}

type SuctionCommand struct {
	Args struct {
		Action string `positional-arg-name:"action" description:"on, blow, release or off"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SuctionCommand) Execute(args []string) error {
	actions := map[string]gcode.SuctionAction{
		"on":      gcode.SuctionOn,
		"blow":    gcode.SuctionBlow,
		"release": gcode.SuctionRelease,
		"off":     gcode.SuctionOff,
	}
	action, ok := actions[c.Args.Action]
	if !ok {
		return fmt.Errorf("unknown suction action %q", c.Args.Action)
	}
	return withSession(func(ctx context.Context, s *session) error {
		return s.ctrl.Suction(ctx, action)
	})
}

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		rows := [][]string{}
		add := func(k, v string) { rows = append(rows, []string{k, v}) }

		sensed, err := s.ctrl.ReadSensor(ctx)
		if err != nil {
			return err
		}
		commanded, err := s.ctrl.ReadPosition(ctx)
		if err != nil {
			return err
		}
		add("Sensor", sensed.String())
		add("Commanded", commanded.String())
		if !commanded.Within(sensed, s.cfg.Motion.DriftTolerance) {
			add("Drift", errorStyle.Render(fmt.Sprintf("%.2f mm", commanded.DistanceTo(sensed))))
		}

		st := s.ctrl.Status()
		add("Suction", st.Arm.Suction.String())
		add("Motors", fmt.Sprintf("%v", st.Arm.MotorsEnabled))
		add("Safe Z", fmt.Sprintf("%.2f", st.Arm.SafeZ))
		add("Mode", st.Arm.Mode.String())

		pick, hooks := s.ctrl.TeachPoints()
		if pick != nil {
			add("Pick", pick.String())
		} else {
			add("Pick", dimStyle.Render("not taught"))
		}
		for i, h := range hooks {
			add(fmt.Sprintf("Hook %d", i+1), h.String())
		}

		fmt.Println(renderTable([]string{"", ""}, rows))
		return nil
	})
}

type StopCommand struct{}

func (c *StopCommand) Execute(args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.ctrl.QuickStop(ctx); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Stopped. Home or sync before the next move."))
	return nil
}

func renderTable(headers []string, rows [][]string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	headerCellStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerCellStyle
			case col == 0:
				return keyStyle
			default:
				return cellStyle
			}
		})
	if strings.Join(headers, "") != "" {
		t = t.Headers(headers...)
	}
	return t.Render()
}
