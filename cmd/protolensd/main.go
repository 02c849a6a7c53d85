package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nyxwire/protolens/internal/ca"
	"github.com/nyxwire/protolens/internal/codec"
	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/proxy"
	"github.com/nyxwire/protolens/internal/registry"
	"github.com/nyxwire/protolens/pkg/engineconfig"
	"github.com/spf13/cobra"
)

var (
	httpPort      int
	socks5Port    int
	apiPort       int
	certDir       string
	dataDir       string
	upstreamProxy string

	enableHTTPParsing bool

	reflectionEnabled    bool
	reflectionTimeoutMs  int
	codecStrictUTF8      bool
	blindDecodeThreshold float64
	gzipMaxOutputBytes   int64
	recentCacheSize      int

	decodeSetPath     string
	decodeTypeName    string
	decodeContentType string
	decodeBase64      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "protolensd",
		Short: "gRPC-Web traffic inspector",
		Long:  `A MITM proxy that decodes gRPC-Web/Connect traffic against registered protobuf schemas and streams it to a UI.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the capture proxy and inspector bridge",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&httpPort, "http-port", 8080, "HTTP proxy port")
	serveCmd.Flags().IntVar(&socks5Port, "socks5-port", 1080, "SOCKS5 proxy port")
	serveCmd.Flags().IntVar(&apiPort, "api-port", 8888, "Inspector API/websocket port")
	serveCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data storage directory (default: cert-dir/data)")
	serveCmd.Flags().StringVar(&upstreamProxy, "upstream", "", "Upstream proxy URL (e.g., socks5://127.0.0.1:7890)")
	serveCmd.Flags().BoolVar(&enableHTTPParsing, "http-parse", true, "Enable HTTP stream parsing and gRPC-Web capture")
	serveCmd.Flags().BoolVar(&reflectionEnabled, "reflection", true, "Query grpc.reflection.v1/v1alpha when a method isn't in a registered schema")
	serveCmd.Flags().IntVar(&reflectionTimeoutMs, "reflection-timeout-ms", 10000, "Reflection fetch timeout, milliseconds")
	serveCmd.Flags().BoolVar(&codecStrictUTF8, "codec-strict-utf8", false, "Reject non-UTF8 string fields instead of falling back to bytes")
	serveCmd.Flags().Float64Var(&blindDecodeThreshold, "blind-decode-threshold", 0.8, "Minimum fraction of a length-delimited field's bytes a blind-decode nested-message probe must consume")
	serveCmd.Flags().Int64Var(&gzipMaxOutputBytes, "gzip-max-output-bytes", 64<<20, "Cap on inflated gzip frame size")
	serveCmd.Flags().IntVar(&recentCacheSize, "recent-cache-size", 1000, "Number of enriched records kept for the UI/re-decode")

	caCmd := &cobra.Command{
		Use:   "ca",
		Short: "CA certificate management",
	}

	caInfoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show CA certificate information",
		RunE:  runCAInfo,
	}
	caInfoCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")

	caExportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export CA certificate",
		RunE:  runCAExport,
	}
	caExportCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")
	var outputPath string
	caExportCmd.Flags().StringVarP(&outputPath, "output", "o", "./ca.crt", "Output file path")

	caRegenerateCmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Regenerate CA certificate",
		RunE:  runCARegenerate,
	}
	caRegenerateCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")
	var force bool
	caRegenerateCmd.Flags().BoolVar(&force, "force", false, "Force regeneration without confirmation")

	caCleanCertsCmd := &cobra.Command{
		Use:   "clean-certs",
		Short: "Clean cached server certificates",
		RunE:  runCACleanCerts,
	}
	caCleanCertsCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")

	caCmd.AddCommand(caInfoCmd, caExportCmd, caRegenerateCmd, caCleanCertsCmd)

	descriptorsCmd := &cobra.Command{
		Use:   "descriptors <file-descriptor-set.bin>",
		Short: "Load a FileDescriptorSet and print the resulting registry snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runDescriptors,
	}

	decodeCmd := &cobra.Command{
		Use:   "decode <payload-file>",
		Short: "Decode a captured gRPC-Web/Connect body and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
	decodeCmd.Flags().StringVar(&decodeSetPath, "set", "", "FileDescriptorSet to resolve message types against")
	decodeCmd.Flags().StringVar(&decodeTypeName, "type", "", "Fully-qualified message type name (empty: blind decode)")
	decodeCmd.Flags().StringVar(&decodeContentType, "content-type", "application/grpc-web+proto", "Content-Type the body was captured with")
	decodeCmd.Flags().BoolVar(&decodeBase64, "base64", false, "Body file is base64-encoded (grpc-web-text capture)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's /api/status",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&certDir, "cert-dir", "~/.protolens", "Certificate storage directory")

	rootCmd.AddCommand(serveCmd, caCmd, descriptorsCmd, decodeCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)
	if dataDir == "" {
		dataDir = filepath.Join(certDir, "data")
	} else {
		dataDir = expandPath(dataDir)
	}

	config := engineconfig.DefaultConfig()
	config.HTTPPort = httpPort
	config.SOCKS5Port = socks5Port
	config.APIPort = apiPort
	config.CertDir = certDir
	config.DataDir = dataDir
	config.UpstreamProxy = upstreamProxy
	config.EnableHTTPParsing = enableHTTPParsing
	config.ReflectionEnabled = reflectionEnabled
	config.ReflectionTimeout = time.Duration(reflectionTimeoutMs) * time.Millisecond
	config.CodecStrictUTF8 = codecStrictUTF8
	config.BlindDecodeThreshold = blindDecodeThreshold
	config.GzipMaxOutputBytes = gzipMaxOutputBytes
	config.RecentCacheSize = recentCacheSize

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         protolensd Inspector Starting         ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  HTTP Proxy:    127.0.0.1:%-15d║\n", config.HTTPPort)
	fmt.Printf("║  SOCKS5 Proxy:  127.0.0.1:%-15d║\n", config.SOCKS5Port)
	fmt.Printf("║  API/WS Server: 127.0.0.1:%-15d║\n", config.APIPort)
	fmt.Printf("║  Cert Dir:      %-25s║\n", truncateString(config.CertDir, 25))
	fmt.Printf("║  Data Dir:      %-25s║\n", truncateString(config.DataDir, 25))
	if config.UpstreamProxy != "" {
		fmt.Printf("║  Upstream:      %-25s║\n", truncateString(config.UpstreamProxy, 25))
	}
	fmt.Printf("║  Reflection:    %-25s║\n", fmt.Sprintf("%v (%s timeout)", config.ReflectionEnabled, config.ReflectionTimeout))
	fmt.Println("║                                          ║")
	fmt.Println("║  KeyLog: <data-dir>/sslkeys.log          ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop...")
	fmt.Println()

	server, err := proxy.NewServer(config)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		server.Stop()
	}()

	return server.Start()
}

func runCAInfo(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)

	caInstance, err := ca.New(ca.Options{CertDir: certDir})
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	fmt.Printf("CA Certificate: %s\n", caInstance.CertPath())
	fmt.Printf("CA Private Key: %s\n", caInstance.KeyPath())
	fmt.Printf("Fingerprint:    SHA256 %s\n", caInstance.Fingerprint())
	fmt.Printf("Expires:        %s\n", caInstance.NotAfter().Format("2006-01-02"))
	fmt.Printf("Cached Certs:   %s (%d certificates)\n", caInstance.CertsDir(), caInstance.CertCount())
	return nil
}

func runCAExport(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)
	outputPath, _ := cmd.Flags().GetString("output")

	caInstance, err := ca.New(ca.Options{CertDir: certDir})
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	src, err := os.Open(caInstance.CertPath())
	if err != nil {
		return fmt.Errorf("open CA cert: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy CA cert: %w", err)
	}

	fmt.Printf("CA certificate exported to: %s\n", outputPath)
	return nil
}

func runCARegenerate(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)
	force, _ := cmd.Flags().GetBool("force")

	if !force {
		fmt.Print("This will regenerate the CA certificate and clear all cached certificates. Continue? [y/N] ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	caInstance, err := ca.New(ca.Options{CertDir: certDir})
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	if err := caInstance.Regenerate(); err != nil {
		return fmt.Errorf("regenerate CA: %w", err)
	}

	fmt.Println("CA certificate regenerated successfully.")
	fmt.Printf("New CA certificate: %s\n", caInstance.CertPath())
	return nil
}

func runCACleanCerts(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)

	caInstance, err := ca.New(ca.Options{CertDir: certDir})
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	count := caInstance.CertCount()
	if err := caInstance.CleanCerts(); err != nil {
		return fmt.Errorf("clean certs: %w", err)
	}

	fmt.Printf("Cleaned %d cached certificates.\n", count)
	return nil
}

func runDescriptors(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read descriptor set: %w", err)
	}

	reg := registry.New()
	if err := reg.RegisterFileDescriptorSet(data); err != nil {
		return fmt.Errorf("register descriptor set: %w", err)
	}

	snap := reg.Snapshot()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runDecode(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	reg := registry.New()
	if decodeSetPath != "" {
		data, err := os.ReadFile(decodeSetPath)
		if err != nil {
			return fmt.Errorf("read descriptor set: %w", err)
		}
		if err := reg.RegisterFileDescriptorSet(data); err != nil {
			return fmt.Errorf("register descriptor set: %w", err)
		}
	}

	result := framing.Process(body, decodeBase64, framing.Headers{ContentType: decodeContentType}, framing.DefaultOptions())

	out := struct {
		Payloads []*codec.Value    `json:"payloads"`
		Trailer  map[string]string `json:"trailer,omitempty"`
		Warnings []string          `json:"warnings,omitempty"`
	}{
		Trailer:  result.Trailer,
		Warnings: result.Warnings,
	}
	for _, payload := range result.Payloads {
		out.Payloads = append(out.Payloads, codec.Decode(decodeTypeName, payload, reg, codec.DefaultOptions()))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runStatus(cmd *cobra.Command, args []string) error {
	certDir = expandPath(certDir)
	apiAddr, err := readAPIAddr(certDir)
	if err != nil {
		return fmt.Errorf("daemon not running or API address not found: %w", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", apiAddr))
	if err != nil {
		return fmt.Errorf("connect to API: %w", err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("Status: %v\n", status["status"])
	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func readAPIAddr(certDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(certDir, "api.addr"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
