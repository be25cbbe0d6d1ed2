package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/bladeloader/pkg/motion"
)

type TeachCommand struct{}

func (c *TeachCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		fmt.Println(headerStyle.Render("bladeloader teach"))
		fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━"))
		fmt.Println()

		for {
			printTeachPoints(s)

			var action string
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("What next?").
						Options(
							huh.NewOption("Record the pick position (top of the stack)", "pick"),
							huh.NewOption("Record a hook position", "hook"),
							huh.NewOption("Delete a hook", "delete"),
							huh.NewOption("Done", "done"),
						).
						Value(&action),
				),
			)
			if err := form.Run(); err != nil {
				fmt.Println()
				os.Exit(0)
			}

			var err error
			switch action {
			case "pick":
				var p motion.Position
				if p, err = recordByHand(ctx, s, "Move the nozzle onto the top blade of the stack."); err == nil {
					err = s.ctrl.SetPick(p)
				}
			case "hook":
				var p motion.Position
				if p, err = recordByHand(ctx, s, "Move the nozzle to where a blade hangs on the hook."); err == nil {
					_, err = s.ctrl.AddHook(p)
				}
			case "delete":
				err = deleteHook(s)
			case "done":
				return nil
			}
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
			if err := s.saveTeachPoints(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Println(successStyle.Render("Saved to " + opts.Config))
			fmt.Println()
		}
	})
}

// recordByHand disables the motors, lets the operator position the arm and
// returns the synced sensor position.
func recordByHand(ctx context.Context, s *session, prompt string) (motion.Position, error) {
	if err := s.ctrl.EnterTeachMode(ctx); err != nil {
		return motion.Position{}, err
	}
	fmt.Println(subHeaderStyle.Render("Motors off"))
	waitForUser(prompt)
	p, err := s.ctrl.ExitTeachMode(ctx)
	if err != nil {
		return motion.Position{}, err
	}
	fmt.Printf("Recorded %s\n", p)
	return p, nil
}

func deleteHook(s *session) error {
	_, hooks := s.ctrl.TeachPoints()
	if len(hooks) == 0 {
		return fmt.Errorf("no hooks to delete")
	}
	var options []huh.Option[string]
	for i, h := range hooks {
		options = append(options, huh.NewOption(fmt.Sprintf("Hook %d at %s", i+1, h), strconv.Itoa(i)))
	}
	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Delete which hook?").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	i, _ := strconv.Atoi(choice)
	return s.ctrl.DeleteHook(i)
}

func printTeachPoints(s *session) {
	pick, hooks := s.ctrl.TeachPoints()
	rows := [][]string{}
	if pick != nil {
		rows = append(rows, []string{"Pick", pick.String()})
	} else {
		rows = append(rows, []string{"Pick", dimStyle.Render("not taught")})
	}
	for i, h := range hooks {
		rows = append(rows, []string{fmt.Sprintf("Hook %d", i+1), h.String()})
	}
	fmt.Println(renderTable([]string{"", ""}, rows))
}
