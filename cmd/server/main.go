package main

import (
  "fmt"
  "os"

  "github.com/shintairiku/marketing-automation-sub005/internal/app"
)

func main() {
  a, err := app.New()
  if err != nil {
    fmt.Printf("Failed to init app: %v\n", err)
    os.Exit(1)
  }
  defer a.Close()

  a.Start()

  port := os.Getenv("PORT")
  if port == "" {
    port = "8080"
  }
  a.Log.Info("Server listening", "port", port)
  if err := a.Run(":" + port); err != nil {
    a.Log.Error("Server failed", "error", err)
  }
}
