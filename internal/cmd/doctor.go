package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goflash/internal/config"
	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/internal/server/handlers"
	"github.com/3leaps/goflash/pkg/avrdude"
	"github.com/3leaps/goflash/pkg/boardconfig"
	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/pkg/portscan"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Checks the project configuration, the board catalog, the avrdude bundle,
serial port enumeration and the workspace and job directories.

Examples:
  goflash doctor                 # Full environment check
  goflash doctor --provider s3   # Also check S3 image access`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	logger := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("")
	logger.Info("Running diagnostic checks...")
	logger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 9

	if doctorProvider == "s3" {
		totalChecks = 11
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		logger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		logger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Gofulmen and Crucible
	version := crucible.GetVersion()
	if version.Gofulmen != "" && version.Crucible != "" {
		logger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s (crucible v%s)", checkNum, totalChecks, version.Gofulmen, version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		logger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Configuration
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid configuration", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(logger, foundry.ExitInvalidArgument, "Invalid configuration", err)
		return
	}
	source := strings.TrimSpace(cfgFile)
	if source == "" {
		source = "defaults + environment"
	}
	logger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ %s", checkNum, totalChecks, source))
	checkNum++

	// Check 4: Project file
	catalog, err := newCatalog(cfg)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking board catalog... ❌ %v", checkNum, totalChecks, err))
		ExitWithCode(logger, foundry.ExitInvalidArgument, "Invalid board catalog", err)
		return
	}
	resolver := boardconfig.NewResolver(cfg.Project.Dir, catalog)
	ids, err := checkProject(resolver)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking project file... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		logger.Info(fmt.Sprintf("[%d/%d] Checking project file... ✅ %d boards in %s", checkNum, totalChecks, len(ids), resolver.ProjectFile()))
	}
	checkNum++

	// Check 5: Board catalog
	unsupported, broken := checkCatalog(resolver, ids)
	for board, err := range broken {
		logger.Warn("Board not resolvable", zap.String("board", board), zap.Error(err))
	}
	if len(unsupported)+len(broken) == 0 {
		logger.Info(fmt.Sprintf("[%d/%d] Checking board catalog... ✅ all boards resolved", checkNum, totalChecks))
	} else {
		logger.Warn(fmt.Sprintf("[%d/%d] Checking board catalog... ⚠️  %d of %d boards unresolved", checkNum, totalChecks, len(unsupported)+len(broken), len(ids)),
			zap.Strings("unsupported", unsupported))
		allChecks = false
	}
	checkNum++

	// Check 6: avrdude
	tool, err := checkAvrdude(cfg, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking avrdude... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		logger.Info(fmt.Sprintf("[%d/%d] Checking avrdude... ✅ %s", checkNum, totalChecks, tool.Path),
			zap.String("config", tool.ConfigPath))
	}
	checkNum++

	// Check 7: Serial ports
	ports, err := portscan.SerialEnumerator{USBOnly: cfg.Scan.USBOnly}.Ports()
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking serial ports... ❌ Cannot enumerate ports", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		logger.Info(fmt.Sprintf("[%d/%d] Checking serial ports... ✅ %d found", checkNum, totalChecks, len(ports)),
			zap.Strings("ports", ports))
	}
	checkNum++

	// Check 8: Writable directories
	dirs := []string{cfg.Workspace.Root}
	if cfg.Jobs.Enabled {
		dirs = append(dirs, cfg.Jobs.Dir)
	}
	dirsOK := true
	for _, dir := range dirs {
		if err := handlers.DirWritableChecker(dir).CheckHealth(cmd.Context()); err != nil {
			logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ not writable", checkNum, totalChecks, dir),
				zap.Error(err))
			dirsOK = false
		}
	}
	if dirsOK {
		logger.Info(fmt.Sprintf("[%d/%d] Checking data directories... ✅ writable", checkNum, totalChecks),
			zap.Strings("dirs", dirs))
	} else {
		allChecks = false
	}
	checkNum++

	// Check 9: Environment
	logger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorProvider == "s3" {
		allChecks = runS3Checks(cmd.Context(), cfg.Images.S3, checkNum, totalChecks) && allChecks
	}

	logger.Info("")
	if allChecks {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("")
	logger.Info("=== End Diagnostics ===")
}

// checkProject lists the project boards. A missing or empty project file
// gets a hint on how to create one.
func checkProject(resolver *boardconfig.Resolver) ([]string, error) {
	ids, err := resolver.Boards()
	if boardconfig.IsProjectConfigUnavailable(err) {
		return nil, fmt.Errorf("%w (create %s with one [%s<board>] section per board)", err, resolver.ProjectFile(), boardconfig.EnvPrefix)
	}
	return ids, err
}

// checkCatalog resolves every board. Boards whose token the catalog does not
// know are returned by id; any other failure is returned by board.
func checkCatalog(resolver *boardconfig.Resolver, ids []string) ([]string, map[string]error) {
	var unsupported []string
	broken := map[string]error{}
	for _, id := range ids {
		_, err := resolver.Resolve(id)
		switch {
		case err == nil:
		case boardconfig.IsBoardNotSupported(err):
			unsupported = append(unsupported, id)
		default:
			broken[id] = err
		}
	}
	return unsupported, broken
}

// checkAvrdude locates the flashing utility and confirms the binary exists.
func checkAvrdude(cfg *config.Config, logger *zap.Logger) (*avrdude.Tool, error) {
	tool, err := newAvrdude(cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(tool.Path); err != nil {
		return nil, fmt.Errorf("%s not found (set avrdude.path or install the bundle under avrdude.res_dir)", tool.Path)
	}
	return tool, nil
}

// runS3Checks verifies that credentials for image downloads resolve.
func runS3Checks(ctx context.Context, s3cfg imagesource.S3Config, checkNum, totalChecks int) bool {
	logger := observability.CLILogger
	logger.Info("")
	logger.Info("S3 Provider Checks:")

	awsCfg, err := imagesource.LoadAWSConfig(ctx, s3cfg)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	logger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	endpoint := s3cfg.Endpoint
	if endpoint == "" {
		endpoint = "aws"
	}
	logger.Info(fmt.Sprintf("[%d/%d] Checking S3 endpoint... ✅ %s (%s)", checkNum, totalChecks, endpoint, awsCfg.Region),
		zap.Bool("force_path_style", s3cfg.ForcePathStyle))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	logger := observability.CLILogger
	logger.Info("")
	logger.Info("To configure credentials for S3 image downloads:")
	logger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	logger.Info("  2. Set images.s3.profile to a profile from 'aws configure', or")
	logger.Info("  3. Set images.s3.access_key_id and images.s3.secret_access_key")
	logger.Info("")
	logger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	logger.Info("  - images.s3.endpoint and images.s3.force_path_style")
	logger.Info("")
}
