package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"opsdesk/internal/app"
	"opsdesk/internal/config"
	"opsdesk/internal/desk"
	"opsdesk/internal/remote"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliNavigator reports route changes on stderr.
type cliNavigator struct{}

func (cliNavigator) Navigate(route string) {
	fmt.Fprintf(os.Stderr, "-> %s\n", route)
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	app.ApplyEnvOverrides(cfg)
	return cfg, nil
}

// newApp reads the config and creates an OpsApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Inbox", "SendSMS").
func newApp(operation string) (*app.OpsApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewOpsApp(cfg, operation, cliNavigator{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassword prompts on the terminal without echo, or reads one line from
// a pipe.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return line, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printThreads(threads []desk.Thread) {
	if len(threads) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, th := range threads {
		unread := " "
		if th.Unread {
			unread = "*"
		}
		fmt.Printf("%s %-24s  %s  %s\n", unread, th.Counterparty, formatTime(th.Timestamp), th.LastMessage)
	}
}

func printRecords(records []desk.Record) {
	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}
	for _, r := range records {
		id := r.ID
		if r.IsProvisional() {
			id = "(sending)"
		}
		status := r.Status
		if status == "" {
			status = string(r.Direction)
		}
		fmt.Printf("%-10s  %s  %-20s  %-10s  %s\n", id, formatTime(r.CreatedAt), r.Counterparty, status, r.Body)
	}
}

func printMetrics(m remote.Metrics) {
	if len(m) == 0 {
		fmt.Println("No data.")
		return
	}
	for _, k := range m.Keys() {
		fmt.Printf("%-28s %v\n", k, m[k])
	}
}

// printState renders one feed update, keeping stale data on screen when a
// poll fails.
func printState(resource string) func(desk.FeedState) {
	return func(st desk.FeedState) {
		fmt.Printf("\n[%s] %s", resource, time.Now().Format("15:04:05"))
		if st.Pending > 0 {
			fmt.Printf("  (%d pending)", st.Pending)
		}
		fmt.Println()
		if st.Err != nil {
			fmt.Printf("! %v\n", st.Err)
		}
		if st.Loading {
			fmt.Println("Loading...")
			return
		}
		switch resource {
		case app.ResourceSMS, app.ResourceEmail:
			printThreads(st.Threads)
		default:
			printRecords(st.Records)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "opsdesk",
	Short:         "Operations desk for SMS, email, calls and appointments",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		app.ApplyEnvOverrides(cfg)

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Backend:  %s\n", cfg.BaseURL)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Backend:         %s\n", cfg.BaseURL)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Log Level:       %s\n", cfg.LogLevel)
		fmt.Printf("Session Store:   %s\n", cfg.Session.Type)
		fmt.Printf("HTTP Timeout:    %s\n", cfg.HTTP.Timeout)
		fmt.Printf("Poll Messages:   %s\n", cfg.Poll.Messages)
		fmt.Printf("Poll Calls:      %s\n", cfg.Poll.Calls)
		fmt.Printf("Poll Appts:      %s\n", cfg.Poll.Appointments)
		fmt.Printf("Poll Analytics:  %s\n", cfg.Poll.Analytics)
		fmt.Printf("Pending Timeout: %s\n", cfg.Mutations.PendingTimeout)
		return nil
	},
}

// auth commands
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp("Login")
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword()
		if err != nil {
			return err
		}

		stage, err := a.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Printf("Signed in. Stage: %s\n", stage)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		business, _ := cmd.Flags().GetString("business")

		a, err := newApp("Signup")
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword()
		if err != nil {
			return err
		}

		stage, err := a.Signup(cmd.Context(), remote.SignupRequest{
			Email:        email,
			Password:     password,
			Name:         name,
			BusinessName: business,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Account created. Stage: %s\n", stage)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Logout")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the account stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		source := "backend"
		if !res.Remote {
			source = "local"
		}
		fmt.Printf("Stage:   %s (%s)\n", res.Stage, source)
		fmt.Printf("Landing: %s\n", desk.LandingRoute(res.Stage))
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open ROUTE",
	Short: "Check whether a route can be entered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Authorize")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.Authorize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if d.Allowed {
			fmt.Printf("%s: allowed\n", d.Route)
			return nil
		}
		fmt.Printf("%s: redirected to %s (stage %s)\n", d.Route, d.Redirect, d.Stage)
		return nil
	},
}

// data commands
var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")

		a, err := newApp("Inbox")
		if err != nil {
			return err
		}
		defer a.Close()

		threads, err := a.Inbox(cmd.Context(), channel)
		if err != nil {
			return err
		}
		printThreads(threads)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:       "watch RESOURCE",
	Short:     "Poll a resource until interrupted",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{app.ResourceSMS, app.ResourceEmail, app.ResourceCalls, app.ResourceAppointments, "dashboard"},
	RunE: func(cmd *cobra.Command, args []string) error {
		resource := args[0]

		a, err := newApp("Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if resource == "dashboard" {
			return a.WatchDashboard(ctx, func(st desk.PollState[app.DashboardData]) {
				fmt.Printf("\n[dashboard] %s\n", time.Now().Format("15:04:05"))
				if st.Err != nil {
					fmt.Printf("! %v\n", st.Err)
				}
				if !st.HasData {
					return
				}
				printMetrics(st.Data.Basic)
				fmt.Println("-- appointments --")
				printMetrics(st.Data.Appointments)
			})
		}
		return a.Watch(ctx, resource, printState(resource))
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message",
}

var sendSMSCmd = &cobra.Command{
	Use:   "sms TO BODY...",
	Short: "Send an SMS",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SendSMS")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.SendSMS(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Sent SMS %s to %s\n", rec.ID, rec.Counterparty)
		return nil
	},
}

var sendEmailCmd = &cobra.Command{
	Use:   "email TO SUBJECT BODY...",
	Short: "Send an email",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SendEmail")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.SendEmail(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Sent email %s to %s\n", rec.ID, rec.Counterparty)
		return nil
	},
}

var appointmentsCmd = &cobra.Command{
	Use:   "appointments",
	Short: "Manage appointments",
}

var appointmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List appointments",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Appointments")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Appointments(cmd.Context())
		if err != nil {
			return err
		}
		printRecords(records)
		return nil
	},
}

var appointmentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Book an appointment",
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")
		at, _ := cmd.Flags().GetString("at")
		notes, _ := cmd.Flags().GetString("notes")

		requested, err := desk.ParseTimestamp(at)
		if err != nil {
			return fmt.Errorf("parsing --at: %w", err)
		}
		if requested.IsZero() {
			return errors.New("--at is required")
		}

		a, err := newApp("CreateAppointment")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.CreateAppointment(cmd.Context(), remote.AppointmentRequest{
			CustomerPhone: phone,
			RequestedTime: requested,
			Notes:         notes,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Booked appointment %s for %s at %s\n", rec.ID, rec.Counterparty, formatTime(rec.RequestedTime))
		return nil
	},
}

var appointmentsUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Change an appointment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		at, _ := cmd.Flags().GetString("confirmed-at")
		notes, _ := cmd.Flags().GetString("notes")

		confirmed, err := desk.ParseTimestamp(at)
		if err != nil {
			return fmt.Errorf("parsing --confirmed-at: %w", err)
		}

		a, err := newApp("UpdateAppointment")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.UpdateAppointment(cmd.Context(), args[0], remote.AppointmentUpdate{
			Status:        status,
			ConfirmedTime: confirmed,
			Notes:         notes,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Appointment %s is %s\n", rec.ID, rec.Status)
		return nil
	},
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect call logs",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Calls")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Calls(cmd.Context())
		if err != nil {
			return err
		}
		printRecords(records)
		return nil
	},
}

var callsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Call")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Call(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Call:      %s\n", r.ID)
		fmt.Printf("Caller:    %s\n", r.Counterparty)
		fmt.Printf("Direction: %s\n", r.Direction)
		fmt.Printf("At:        %s\n", formatTime(r.CreatedAt))
		fmt.Printf("Duration:  %s\n", time.Duration(r.DurationSeconds)*time.Second)
		fmt.Printf("Summary:   %s\n", r.Body)
		if r.AIResponse != "" {
			fmt.Printf("AI:        %s\n", r.AIResponse)
		}
		return nil
	},
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics [CHANNEL VIEW]",
	Short: "Show analytics",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or CHANNEL VIEW, got %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var channel, view string
		if len(args) == 2 {
			channel, view = args[0], args[1]
		}

		a, err := newApp("Analytics")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Analytics(cmd.Context(), channel, view)
		if err != nil {
			return err
		}
		printMetrics(m)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// auth
	loginCmd.Flags().StringP("email", "e", "", "Account email")
	_ = loginCmd.MarkFlagRequired("email")
	signupCmd.Flags().StringP("email", "e", "", "Account email")
	signupCmd.Flags().StringP("name", "n", "", "Your name")
	signupCmd.Flags().String("business", "", "Business name")
	_ = signupCmd.MarkFlagRequired("email")

	// data
	inboxCmd.Flags().StringP("channel", "c", app.ResourceSMS, "Channel: sms or email")
	sendCmd.AddCommand(sendSMSCmd)
	sendCmd.AddCommand(sendEmailCmd)
	appointmentsCmd.AddCommand(appointmentsListCmd)
	appointmentsCmd.AddCommand(appointmentsCreateCmd)
	appointmentsCmd.AddCommand(appointmentsUpdateCmd)
	appointmentsCreateCmd.Flags().String("phone", "", "Customer phone number")
	appointmentsCreateCmd.Flags().String("at", "", "Requested time (RFC 3339 or 2006-01-02 15:04:05)")
	appointmentsCreateCmd.Flags().String("notes", "", "Notes")
	_ = appointmentsCreateCmd.MarkFlagRequired("phone")
	appointmentsUpdateCmd.Flags().StringP("status", "s", "", "New status (pending, confirmed, cancelled, completed)")
	appointmentsUpdateCmd.Flags().String("confirmed-at", "", "Confirmed time")
	appointmentsUpdateCmd.Flags().String("notes", "", "Notes")
	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(appointmentsCmd)
	rootCmd.AddCommand(callsCmd)
	rootCmd.AddCommand(analyticsCmd)
}
