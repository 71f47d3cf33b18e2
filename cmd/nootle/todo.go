package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nootle/nootle/internal/records"
	"github.com/nootle/nootle/internal/schema"
	"github.com/nootle/nootle/internal/ui"
)

// shortID is the id prefix shown in listings.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var todoCmd = &cobra.Command{
	Use:     "todo",
	GroupID: "data",
	Short:   "Manage todos",
}

var todoAddCmd = &cobra.Command{
	Use:   "add <task>",
	Short: "Add a todo",
	Long: `Add a todo. --due accepts ISO dates or English phrases.

Examples:
  nootle todo add "Renew passport" --due "next friday"
  nootle todo add "Ship release" --priority high --due 2024-06-01`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		priority, _ := cmd.Flags().GetString("priority")
		due, _ := cmd.Flags().GetString("due")
		category, _ := cmd.Flags().GetString("category")

		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		if category != "" {
			category = resolve(ctx, svc, schema.Categories, category)
		}

		todo, err := svc.AddTodo(ctx, records.TodoInput{
			Task:       strings.Join(args, " "),
			Priority:   priority,
			Due:        due,
			CategoryID: category,
		})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(todo.ID)), todo.Task)
		if todo.DueDate != "" {
			fmt.Printf("   Due: %s\n", formatDue(todo.DueDate))
		}
	},
}

var todoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open todos",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		category, _ := cmd.Flags().GetString("category")
		format, _ := cmd.Flags().GetString("format")

		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		if category != "" {
			category = resolve(ctx, svc, schema.Categories, category)
		}

		todos, err := svc.ListTodos(ctx, records.TodoFilter{CategoryID: category, IncludeCompleted: all})
		if err != nil {
			fatalf("%v", err)
		}

		if format != formatText {
			data, err := encodeValue(todos, format)
			if err != nil {
				fatalf("%v", err)
			}
			os.Stdout.Write(data)
			return
		}

		if len(todos) == 0 {
			fmt.Println("No todos")
			return
		}

		rows := make([][]string, 0, len(todos))
		for _, t := range todos {
			check := "[ ]"
			if t.IsCompleted {
				check = ui.RenderPass("[x]")
			}
			rows = append(rows, []string{
				ui.RenderMuted(shortID(t.ID)), check, renderPriority(t.Priority), t.Task, formatDue(t.DueDate),
			})
		}
		fmt.Print(ui.Table([]string{"ID", "", "PRIORITY", "TASK", "DUE"}, rows))
	},
}

var todoDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a todo completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		undo, _ := cmd.Flags().GetBool("undo")

		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		id := resolve(ctx, svc, schema.Todos, args[0])
		todo, err := svc.SetTodoCompleted(ctx, id, !undo)
		if err != nil {
			fatalf("%v", err)
		}

		if undo {
			fmt.Printf("%s Reopened %s\n", ui.RenderAccent("↺"), todo.Task)
			return
		}
		fmt.Printf("%s Completed %s\n", ui.RenderPass("✓"), todo.Task)
	},
}

var todoRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a todo (on this device only)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		id := resolve(ctx, svc, schema.Todos, args[0])
		if err := svc.Delete(ctx, schema.Todos, id); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), shortID(id))
		fmt.Println(ui.RenderMuted("   Deletions are not synced; other devices keep their copy."))
	},
}

var categoryCmd = &cobra.Command{
	Use:     "category",
	GroupID: "data",
	Short:   "Manage categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a category",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		color, _ := cmd.Flags().GetString("color")

		svc, database := openRecords()
		defer database.Close()

		cat, err := svc.AddCategory(context.Background(), strings.Join(args, " "), color)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added category %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(cat.ID)), cat.Name)
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()

		cats, err := svc.ListCategories(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		if len(cats) == 0 {
			fmt.Println("No categories")
			return
		}

		rows := make([][]string, 0, len(cats))
		for _, c := range cats {
			rows = append(rows, []string{ui.RenderMuted(shortID(c.ID)), c.Name, ui.RenderMuted(c.Color)})
		}
		fmt.Print(ui.Table([]string{"ID", "NAME", "COLOR"}, rows))
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a category and detach its records",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		id := resolve(ctx, svc, schema.Categories, args[0])
		if err := svc.Delete(ctx, schema.Categories, id); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted category %s\n", ui.RenderPass("✓"), shortID(id))
	},
}

// resolve expands an id prefix or exits.
func resolve(ctx context.Context, svc *records.Service, collection, prefix string) string {
	id, err := svc.ResolveID(ctx, collection, prefix)
	if err != nil {
		fatalf("%v", err)
	}
	return id
}

func renderPriority(p string) string {
	switch p {
	case schema.PriorityHigh:
		return ui.RenderFail("high")
	case schema.PriorityLow:
		return ui.RenderMuted("low")
	default:
		return p
	}
}

// formatDue renders a stored due date in local time.
func formatDue(due string) string {
	t, ok := schema.ParseTime(due)
	if !ok {
		return due
	}
	t = t.Local()
	if t.Hour() == 0 && t.Minute() == 0 {
		return t.Format("Mon Jan 2")
	}
	return t.Format("Mon Jan 2 15:04")
}

func init() {
	todoAddCmd.Flags().StringP("priority", "p", schema.PriorityMedium, "Priority: low, medium or high")
	todoAddCmd.Flags().StringP("due", "d", "", "Due date, e.g. 2024-06-01 or \"tomorrow 9am\"")
	todoAddCmd.Flags().StringP("category", "c", "", "Category id or id prefix")
	todoListCmd.Flags().BoolP("all", "a", false, "Include completed todos")
	todoListCmd.Flags().StringP("category", "c", "", "Only todos in this category")
	todoListCmd.Flags().String("format", formatText, "Output format: text, json or yaml")
	todoDoneCmd.Flags().Bool("undo", false, "Mark the todo as not completed")
	categoryAddCmd.Flags().String("color", "", "Color as #rrggbb (default blue)")

	todoCmd.AddCommand(todoAddCmd, todoListCmd, todoDoneCmd, todoRmCmd)
	categoryCmd.AddCommand(categoryAddCmd, categoryListCmd, categoryRmCmd)
	rootCmd.AddCommand(todoCmd)
	rootCmd.AddCommand(categoryCmd)
}
