package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/roadmap"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/ui/theme"
)

// withEngine opens the engine for the duration of fn.
func withEngine(cmd *cobra.Command, fn func(e *engine.Engine) error) error {
	e, log, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()
	return fn(e)
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <student> [course...]",
	Short: "Register a student and enroll them in courses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *engine.Engine) error {
			st, err := e.Enroll(cmd.Context(), engine.Enrollment{StudentID: args[0], Courses: args[1:]})
			if err != nil {
				return err
			}
			fmt.Printf("%s enrolled in %s\n", st.ID, strings.Join(st.EnrolledCourses, ", "))
			return nil
		})
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <student> <content>",
	Short: "Record progress on a content item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u := progression.ProgressUpdate{StudentID: args[0], ContentID: args[1]}
		u.Status, _ = cmd.Flags().GetString("status")
		if cmd.Flags().Changed("percent") {
			pct, _ := cmd.Flags().GetFloat64("percent")
			u.CompletionPercentage = &pct
		}
		if cmd.Flags().Changed("score") {
			score, _ := cmd.Flags().GetFloat64("score")
			u.Score = &score
		}
		return withEngine(cmd, func(e *engine.Engine) error {
			res, err := e.Progression.UpdateProgress(cmd.Context(), u)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (%.0f%%)\n", res.Record.ContentID, res.Record.Status, res.Record.CompletionPercentage)
			for _, id := range res.UnlockedContentIDs {
				fmt.Println(theme.Completed.Render("unlocked " + id))
			}
			return nil
		})
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview <student> <course>",
	Short: "Show a student's progress through a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *engine.Engine) error {
			ov, err := e.Progression.CourseOverview(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(renderOverview(ov))
			return nil
		})
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps <student>",
	Short: "List a student's knowledge gaps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withEngine(cmd, func(e *engine.Engine) error {
			gaps, err := e.Gaps.ListGaps(cmd.Context(), args[0], !all)
			if err != nil {
				return err
			}
			fmt.Println(renderGaps(gaps))
			return nil
		})
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <student>",
	Short: "Generate ranked content recommendations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts recommend.Options
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.ContentType, _ = cmd.Flags().GetString("type")
		opts.ExcludeCompleted, _ = cmd.Flags().GetBool("exclude-completed")
		return withEngine(cmd, func(e *engine.Engine) error {
			recs, err := e.Recommend.Generate(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Println(renderRecommendations(recs))
			return nil
		})
	},
}

var roadmapCmd = &cobra.Command{
	Use:   "roadmap <student>",
	Short: "Generate or show a student's learning roadmap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := roadmapOptions(cmd)
		if err != nil {
			return err
		}
		show, _ := cmd.Flags().GetBool("show")
		return withEngine(cmd, func(e *engine.Engine) error {
			get := e.Roadmap.Generate
			if show {
				get = func(ctx context.Context, studentID string, _ roadmap.Options) (*store.Roadmap, error) {
					return e.Roadmap.GetWithProgress(ctx, studentID)
				}
			}
			rm, err := get(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Println(renderRoadmap(rm))
			return nil
		})
	},
}

func addRoadmapFlags(c *cobra.Command) {
	c.Flags().StringSlice("skill", nil, "Target skill: a content ID or topic (repeatable; defaults to enrolled courses)")
	c.Flags().Float64("hours", 0, "Study hours available per week")
	c.Flags().String("target", "", "Target completion date (YYYY-MM-DD, requires --hours)")
	c.Flags().Bool("force", false, "Regenerate even if the inputs are unchanged")
	c.Flags().Bool("show", false, "Show the stored roadmap with refreshed progress instead of generating")
}

func roadmapOptions(cmd *cobra.Command) (roadmap.Options, error) {
	var opts roadmap.Options
	opts.TargetSkills, _ = cmd.Flags().GetStringSlice("skill")
	opts.ForceRegenerate, _ = cmd.Flags().GetBool("force")

	hours, _ := cmd.Flags().GetFloat64("hours")
	target, _ := cmd.Flags().GetString("target")
	if target != "" && hours == 0 {
		return opts, fmt.Errorf("--target requires --hours")
	}
	if hours != 0 {
		tc := &roadmap.TimeConstraints{HoursPerWeek: hours}
		if target != "" {
			t, err := time.ParseInLocation("2006-01-02", target, time.Local)
			if err != nil {
				return opts, fmt.Errorf("invalid --target %q: want YYYY-MM-DD", target)
			}
			tc.TargetCompletion = &t
		}
		opts.TimeConstraints = tc
	}
	return opts, nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Tag free text with catalog topics and estimate its difficulty",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		typ, _ := cmd.Flags().GetString("type")
		return withEngine(cmd, func(e *engine.Engine) error {
			res, err := e.Analysis.Analyze(cmd.Context(), analysis.Request{
				Text:        strings.Join(args, " "),
				Type:        analysis.Type(typ),
				SubjectArea: subject,
			})
			if err != nil {
				return err
			}
			fmt.Println(renderAnalysis(res))
			return nil
		})
	},
}

func init() {
	progressCmd.Flags().String("status", "", "New status: not_started, in_progress, or completed")
	progressCmd.Flags().Float64("percent", 0, "Completion percentage (0-100)")
	progressCmd.Flags().Float64("score", 0, "Score (0-100)")

	gapsCmd.Flags().Bool("all", false, "Include resolved gaps")

	recommendCmd.Flags().IntP("limit", "n", 5, "Number of recommendations")
	recommendCmd.Flags().String("type", "", "Only recommend this content type (course, lesson, assessment)")
	recommendCmd.Flags().Bool("exclude-completed", true, "Skip content the student already completed")

	addRoadmapFlags(roadmapCmd)

	analyzeCmd.Flags().String("subject", "", "Restrict candidate topics to a subject area")
	analyzeCmd.Flags().String("type", "", "Analysis type: topics, difficulty, or full")
}
