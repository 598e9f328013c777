package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP API bind address (e.g., ":8080")
//	-m string   metrics bind address (e.g., ":9090"; empty disables)
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-k string   S3 key prefix for new uploads
//	-x int      signed URL validity, minutes
//	-i string   storage index backend (postgres or dynamodb)
//	-y string   DynamoDB table name
//	-r string   comma-separated elevated roles
//	-l int      requests per rate limit window (0 disables)
//	-v string   log level
//
// Arguments not in this list are ignored so that -c/-config can be handled
// separately by parseJson.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-m", "-d", "-s", "-u", "-p", "-b", "-g", "-e", "-k", "-x", "-i", "-y", "-r", "-l", "-v",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port for metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3KeyPrefix, "k", config.S3KeyPrefix, "S3 key prefix for uploads")

	presignExpiry := fs.Int("x", int(config.PresignExpiry.Minutes()), "signed URL validity (in minutes)")

	fs.StringVar(&config.IndexBackend, "i", config.IndexBackend, "storage index backend (postgres|dynamodb)")
	fs.StringVar(&config.DynamoDBTable, "y", config.DynamoDBTable, "DynamoDB table name")

	elevatedRoles := fs.String("r", strings.Join(config.ElevatedRoles, ","), "comma-separated elevated roles")

	fs.IntVar(&config.RateLimit, "l", config.RateLimit, "requests per rate limit window")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PresignExpiry = time.Duration(*presignExpiry) * time.Minute
	config.ElevatedRoles = splitList(*elevatedRoles)
}
